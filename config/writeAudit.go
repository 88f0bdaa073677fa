package config

import (
	"context"
	"errors"

	"github.com/mmdatafocus/menu_backend/appctx"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WriteAuditPlugin logs every failed write, and every successful write at debug
// level, tagged with the request's correlation id and operator.
type WriteAuditPlugin struct {
	logger *logrus.Logger
}

func NewWriteAuditPlugin(logger *logrus.Logger) *WriteAuditPlugin {
	return &WriteAuditPlugin{logger: logger}
}

func (p *WriteAuditPlugin) Name() string { return "write_audit" }

func (p *WriteAuditPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().After("gorm:create").Register("write_audit:create", p.callback("create")); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("write_audit:update", p.callback("update")); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:delete").Register("write_audit:delete", p.callback("delete")); err != nil {
		return err
	}
	return nil
}

func (p *WriteAuditPlugin) callback(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db == nil || db.Statement == nil || p.logger == nil {
			return
		}
		fields := logrus.Fields{
			"op":    op,
			"table": db.Statement.Table,
			"rows":  db.RowsAffected,
		}
		for k, v := range contextFields(db.Statement.Context) {
			fields[k] = v
		}
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrDuplicatedKey) {
			p.logger.WithFields(fields).Error(db.Error.Error())
			return
		}
		if p.logger.IsLevelEnabled(logrus.DebugLevel) {
			p.logger.WithFields(fields).Debug("write")
		}
	}
}

func contextFields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if ctx == nil {
		return fields
	}
	if v, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && v != "" {
		fields["correlation_id"] = v
	}
	if v, ok := appctx.GetString(ctx, appctx.ContextKeyOperator); ok && v != "" {
		fields["operator"] = v
	}
	return fields
}
