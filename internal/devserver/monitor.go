package devserver

import (
	"context"
	"math/rand"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/socket"
)

// handleMonitorSocket streams synthetic blood-pressure readings and periodic
// predictions. The namespace is deliberately unauthenticated.
func (s *Server) handleMonitorSocket(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("monitor websocket accept failed", "error", err)
		return nil
	}

	ctx := c.Request().Context()
	defer conn.Close(websocket.StatusNormalClosure, "")

	readings := time.NewTicker(s.monitorInterval)
	defer readings.Stop()
	predictions := time.NewTicker(s.predictionInterval)
	defer predictions.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-readings.C:
			if err := s.writeMonitorEvent(ctx, conn, socket.EventBPReading, syntheticReading()); err != nil {
				return nil
			}
		case <-predictions.C:
			if err := s.writeMonitorEvent(ctx, conn, socket.EventPrediction, syntheticPrediction()); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) writeMonitorEvent(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	frame, err := socket.EncodeEnvelope(event, payload)
	if err != nil {
		s.logger.Error("failed to encode monitor event", "event", event, "error", err)
		return err
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

func syntheticReading() domain.BPReading {
	return domain.BPReading{
		Systolic:  115 + rand.Intn(30),
		Diastolic: 72 + rand.Intn(20),
		HeartRate: 62 + rand.Intn(28),
	}
}

func syntheticPrediction() domain.Prediction {
	categories := []struct {
		risk     string
		category string
		advice   string
	}{
		{"low", "normal", "Keep up your current routine."},
		{"medium", "elevated", "Consider reducing sodium intake."},
		{"high", "hypertension_stage_1", "Schedule a check-up with your physician."},
	}
	pick := categories[rand.Intn(len(categories))]
	return domain.Prediction{
		Prediction:     pick.category,
		RiskLevel:      pick.risk,
		Probability:    0.5 + rand.Float64()*0.5,
		Recommendation: pick.advice,
		BPCategory:     pick.category,
	}
}
