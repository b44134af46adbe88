package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pulsepal/pulsepal/internal/app"
	"github.com/pulsepal/pulsepal/internal/domain"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream live blood-pressure readings",
	Long: `Stream live blood-pressure readings and risk predictions from the
monitor service. The service endpoint is discovered automatically and no
authentication is required. Press Ctrl-C to stop.`,
	RunE: monitorHandler,
}

func monitorHandler(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(app.Identity{})
	if err != nil {
		return fmt.Errorf("assemble client: %w", err)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	unsubReading, err := a.Sessions.OnBPReading(ctx, func(r domain.BPReading) {
		fmt.Printf("BP %d/%d mmHg, %d bpm\n", r.Systolic, r.Diastolic, r.HeartRate)
	})
	if err != nil {
		return err
	}
	defer unsubReading()

	unsubPrediction, err := a.Sessions.OnPrediction(ctx, func(p domain.Prediction) {
		fmt.Printf("Prediction: %s (risk %s, %.0f%%) %s\n",
			p.Prediction, p.RiskLevel, p.Probability*100, p.Recommendation)
	})
	if err != nil {
		return err
	}
	defer unsubPrediction()

	a.Monitor.SetLive(ctx, true)
	<-ctx.Done()
	a.Monitor.SetLive(context.Background(), false)
	return nil
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
