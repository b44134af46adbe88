package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pulsepal/pulsepal/internal/app"
	"github.com/pulsepal/pulsepal/internal/domain"
)

var (
	chatRoom     string
	chatUserID   string
	chatUsername string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a chat room and talk",
	Long: `Join a chat room and talk from the terminal.

Incoming messages are printed as they arrive. Lines you type are sent to the
room. A few slash commands are available:

  /room <id>   switch to another room
  /older       load an older page of history
  /quit        leave and exit`,
	RunE: chatHandler,
}

func chatHandler(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(app.Identity{UserID: chatUserID, Username: chatUsername})
	if err != nil {
		return fmt.Errorf("assemble client: %w", err)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	unsubMsg, err := a.Sessions.OnNewMessage(ctx, printMessage)
	if err != nil {
		return err
	}
	defer unsubMsg()
	unsubTyping, err := a.Sessions.OnTyping(ctx, printTyping)
	if err != nil {
		return err
	}
	defer unsubTyping()

	if err := a.Chat.SelectRoom(ctx, chatRoom); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load history for %s: %v\n", chatRoom, err)
	}
	for _, m := range a.Chat.Messages() {
		printMessage(m)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch {
			case line == "/quit":
				return nil
			case line == "/older":
				a.Chat.LoadOlder(ctx)
			case strings.HasPrefix(line, "/room "):
				room := strings.TrimSpace(strings.TrimPrefix(line, "/room "))
				if err := a.Chat.SelectRoom(ctx, room); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not load history for %s: %v\n", room, err)
				}
				for _, m := range a.Chat.Messages() {
					printMessage(m)
				}
			case strings.TrimSpace(line) != "":
				a.Chat.InputChanged(line)
				a.Chat.Send(ctx, line)
			}
		}
	}
}

func printMessage(m domain.Message) {
	fmt.Printf("[%s] %s: %s\n", m.RoomID, m.SenderInfo.Username, m.Text)
}

func printTyping(ts domain.TypingStatus) {
	if ts.IsTyping {
		fmt.Printf("[%s] %s is typing...\n", ts.RoomID, ts.Username)
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVarP(&chatRoom, "room", "r", "general", "Room to join on startup")
	chatCmd.Flags().StringVar(&chatUserID, "user-id", "", "Identity used to classify own messages")
	chatCmd.Flags().StringVar(&chatUsername, "username", "me", "Display name for outgoing messages")
}
