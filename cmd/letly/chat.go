package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	letly "github.com/letly-app/letly-go"
	"github.com/spf13/cobra"
)

var (
	chatPropertyID string
	chatImagePath  string
)

func init() {
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(supportCmd)

	chatCmd.Flags().StringVar(&chatPropertyID, "property", "", "chat over the property-scoped REST thread instead of the socket")
	chatCmd.Flags().StringVar(&chatImagePath, "image", "", "attach an image to a one-shot send (REST thread only)")
}

// ============================================================================
// letly inbox
// ============================================================================

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List conversations and who is online",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}

		sock := letly.NewChatSocket(client, nil)
		src := letly.NewSocketSource(sock)
		defer src.Close()

		gotInbox := make(chan struct{}, 1)
		sock.OnInbox(func([]letly.ConversationSummary) {
			select {
			case gotInbox <- struct{}{}:
			default:
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := src.Open(ctx, client.Token()); err != nil {
			return err
		}

		select {
		case <-gotInbox:
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for the inbox")
		}

		inbox := src.Inbox()
		if len(inbox) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}
		for _, c := range inbox {
			name := "Support"
			online := ""
			if c.Peer != nil {
				name = c.Peer.Name
				if src.IsOnline(c.Peer.ID) {
					online = " [online]"
				}
			}
			last := "(no messages)"
			if c.LastMessage != nil {
				last = c.LastMessage.DisplayBody()
			}
			fmt.Printf("%s%s — %s\n", name, online, last)
		}
		return nil
	},
}

// ============================================================================
// letly chat
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat <peer-id> [message]",
	Short: "Chat with a peer",
	Long: "Chat with a peer over the realtime socket, or over the property-scoped\n" +
		"REST thread when --property is given. With a message argument the command\n" +
		"sends once and exits; otherwise it starts an interactive session.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		peerID := args[0]

		if chatPropertyID != "" {
			return runPolledChat(client, peerID, args[1:])
		}
		if chatImagePath != "" {
			return fmt.Errorf("--image requires --property: the socket path is text-only")
		}
		return runSocketChat(client, peerID, args[1:])
	},
}

func runSocketChat(client *letly.Client, peerID string, rest []string) error {
	sock := letly.NewChatSocket(client, nil)
	src := letly.NewSocketSource(sock)
	defer src.Close()

	sock.OnMessage(func(m letly.Message) {
		printMessage(&m)
	})
	sock.OnThread(func(msgs []letly.Message) {
		for i := range msgs {
			printMessage(&msgs[i])
		}
	})
	sock.OnStateChange(func(s letly.SocketState, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "connection: %s (%v)\n", s, err)
		}
	})

	ctx := context.Background()
	if err := src.Open(ctx, client.Token()); err != nil {
		return err
	}
	src.SelectConversation(ctx, peerID)

	if len(rest) > 0 {
		return src.Send(ctx, rest[0])
	}

	fmt.Println("Connected. Type a message and press enter; ctrl-d to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := src.Send(ctx, scanner.Text()); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
	return scanner.Err()
}

func runPolledChat(client *letly.Client, peerID string, rest []string) error {
	src := letly.NewPolledSource(client, peerID, chatPropertyID, letly.DefaultThreadPollInterval)
	defer src.Close()
	ctx := context.Background()

	if len(rest) > 0 {
		if chatImagePath != "" {
			data, err := os.ReadFile(chatImagePath)
			if err != nil {
				return fmt.Errorf("cannot read image: %w", err)
			}
			return src.SendWithImage(ctx, rest[0], letly.UploadFile{
				Name: filepath.Base(chatImagePath),
				Data: data,
			})
		}
		return src.Send(ctx, rest[0])
	}

	src.Start(ctx)
	fmt.Println("Polling thread. Type a message and press enter; ctrl-d to quit.")

	seen := 0
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				msgs := src.Thread()
				for ; seen < len(msgs); seen++ {
					printMessage(&msgs[seen])
				}
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := src.Send(ctx, scanner.Text()); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
	close(done)
	return scanner.Err()
}

// ============================================================================
// letly support
// ============================================================================

var supportCmd = &cobra.Command{
	Use:   "support [message]",
	Short: "Message the admin support channel",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}

		sock := letly.NewChatSocket(client, nil)
		src := letly.NewSocketSource(sock)
		defer src.Close()

		sock.OnMessage(func(m letly.Message) {
			printMessage(&m)
		})

		ctx := context.Background()
		if err := src.Open(ctx, client.Token()); err != nil {
			return err
		}

		// No selection: sends go to the support channel.
		if len(args) > 0 {
			return src.Send(ctx, args[0])
		}

		fmt.Println("Connected to support. Type a message and press enter; ctrl-d to quit.")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := src.Send(ctx, scanner.Text()); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
		return scanner.Err()
	},
}

func printMessage(m *letly.Message) {
	sender := m.SenderID.Summary()
	name := sender.Name
	if name == "" {
		name = sender.ID
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), name, m.DisplayBody())
}
