package socket

import (
	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/pubsub"
)

// Bus topics the session manager publishes decoded wire events to.
// Subscriptions attach here, never to the raw connection, so registering a
// handler before the namespace is connected is always safe.
var (
	TopicNewMessage   = pubsub.NewEvent[domain.Message]("chat.message.new")
	TopicTyping       = pubsub.NewEvent[domain.TypingStatus]("chat.typing.status")
	TopicStatus       = pubsub.NewEvent[domain.StatusUpdate]("chat.room.status")
	TopicBPReading    = pubsub.NewEvent[domain.BPReading]("monitor.reading.new")
	TopicPrediction   = pubsub.NewEvent[domain.Prediction]("monitor.prediction.new")
	TopicSessionState = pubsub.NewEvent[SessionState]("socket.session.state")
)
