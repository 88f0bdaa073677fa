package possync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/menu_backend/config"
)

func syncTopic() string {
	if v := strings.TrimSpace(os.Getenv("POS_SYNC_TOPIC")); v != "" {
		return v
	}
	return "pos-sync"
}

func PublishSyncRun(ctx context.Context, runId uint, source string) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := syncTopic()
	topic := client.Topic(topicName)
	if envBoolDefault("POS_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(ctx, client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(SyncPubSubPayload{RunId: runId, Source: source})
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler runs the sync run named in a push message. Every message
// is acknowledged; failed runs are recorded on the run itself.
func PubSubPushHandler(w *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_POS_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if payload.RunId == 0 || payload.Source != w.Source() {
			c.Status(http.StatusNoContent)
			return
		}

		if err := w.ProcessRun(c.Request.Context(), payload.RunId); err != nil {
			config.LogError(w.logger, "pubsub.go", "PubSubPushHandler", "ProcessRun", payload, err)
		}
		c.Status(http.StatusNoContent)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
