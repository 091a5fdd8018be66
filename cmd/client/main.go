package main

import (
	"bufio"
	"context"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/infrastructure/gateway"
	"dm-relay/infrastructure/grpc/client"
	"dm-relay/projection"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type Config struct {
	ServerAddress string `env:"RELAY_ADDR,default=localhost:50051"`
	Email         string `env:"RELAY_EMAIL,required=true"`
	Password      string `env:"RELAY_PASSWORD,required=true"`
	// Username triggers a registration before logging in.
	Username string `env:"RELAY_USERNAME"`
	LogLevel string `env:"LOG_LEVEL,default=WARN"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(config.ServerAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerAddress, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()

	c := client.NewChatClient(conn)
	if config.Username != "" {
		if _, err := c.Register(ctx, config.Username, config.Email, config.Password); err != nil {
			return exitRuntime, fmt.Errorf("register: %w", err)
		}
	}
	me, err := c.Login(ctx, config.Email, config.Password)
	if err != nil {
		return exitRuntime, fmt.Errorf("login: %w", err)
	}

	stream, err := c.Connect(ctx)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open stream: %w", err)
	}
	defer func() { _ = stream.Close() }()
	if err := stream.Join(me.UserID); err != nil {
		return exitRuntime, err
	}
	color.Green.Printf(">>> Connected to %s as %s (%s). Type /help.\n", config.ServerAddress, me.Username, me.UserID)

	timeline := projection.NewTimeline(me.UserID)
	received := make(chan error, 1)
	go func() { received <- receive(stream, timeline) }()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case err := <-received:
			if err == nil || ctx.Err() != nil {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("stream error: %w", err)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			quit, err := command(ctx, c, stream, timeline, strings.TrimSpace(line))
			if err != nil {
				color.Red.Println(err)
			}
			if quit {
				return exitOK, nil
			}
		}
	}
}

// command executes one input line and reports whether the user quits.
func command(ctx context.Context, c *client.ChatClient, stream *client.Stream, timeline *projection.Timeline, line string) (bool, error) {
	verb, rest, _ := strings.Cut(line, " ")
	switch {
	case line == "":
		return false, nil
	case verb == "/quit":
		return true, nil
	case verb == "/help":
		fmt.Println("@<userId> <text>   send a message")
		fmt.Println("/edit <id> <text>  edit one of your messages")
		fmt.Println("/delete <id>       delete one of your messages")
		fmt.Println("/users             list users and their status")
		fmt.Println("/history <userId>  show the conversation with a user")
		fmt.Println("/quit")
		return false, nil
	case strings.HasPrefix(verb, "@"):
		return false, stream.Send(gateway.SendMessageEvent, gateway.SendMessagePayload{
			ReceiverID: strings.TrimPrefix(verb, "@"), Content: rest,
		})
	case verb == "/edit":
		id, content, _ := strings.Cut(rest, " ")
		return false, stream.Send(gateway.UpdateMessageEvent, gateway.UpdateMessagePayload{MessageID: id, Content: content})
	case verb == "/delete":
		return false, stream.Send(gateway.DeleteMessageEvent, gateway.DeleteMessagePayload{MessageID: rest})
	case verb == "/users":
		users, err := c.ListUsers(ctx)
		if err != nil {
			return false, err
		}
		for _, user := range users {
			status := color.Gray.Sprint(user.Status)
			if user.Status == domain.StatusOnline {
				status = color.Green.Sprint(user.Status)
			}
			fmt.Printf("%-36s %-20s %s\n", user.ID, user.Username, status)
		}
		return false, nil
	case verb == "/history":
		conversationID := domain.DeriveConversationID(timeline.Owner, rest)
		messages, err := c.ListMessages(ctx, conversationID)
		if err != nil {
			return false, err
		}
		timeline.Seed(messages)
		for _, message := range timeline.Conversation(string(conversationID)) {
			printMessage(message)
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q", verb)
	}
}

// receive prints server events until the stream ends. io.EOF ends it cleanly.
func receive(stream *client.Stream, timeline *projection.Timeline) error {
	for {
		env, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		changed, err := timeline.Apply(env)
		if err != nil {
			color.Red.Println(err)
			continue
		}
		switch event.Type(env.Event) {
		case event.NewMessageType, event.MessageUpdatedType:
			var data struct {
				Message gateway.MessageDTO `json:"message"`
			}
			if changed && json.Unmarshal(env.Data, &data) == nil {
				printMessage(data.Message)
			}
		case event.MessageDeletedType:
			var data struct {
				MessageID string `json:"messageId"`
			}
			if json.Unmarshal(env.Data, &data) == nil {
				color.Gray.Printf("message %s deleted\n", data.MessageID)
			}
		case event.UserStatusChangeType:
			var data struct {
				UserID string        `json:"userId"`
				Status domain.Status `json:"status"`
			}
			if json.Unmarshal(env.Data, &data) == nil {
				color.Cyan.Printf("%s is now %s\n", data.UserID, data.Status)
			}
		case event.ErrorType:
			var data struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(env.Data, &data) == nil {
				color.Red.Printf("[%s] %s\n", data.Code, data.Message)
			}
		}
	}
}

func printMessage(m gateway.MessageDTO) {
	suffix := ""
	if m.IsEdited {
		suffix = color.Gray.Sprint(" (edited)")
	}
	fmt.Printf("%s %s %s%s %s\n",
		color.Gray.Sprint(m.CreatedAt.Local().Format(time.TimeOnly)),
		color.Yellow.Sprint(m.SenderID),
		m.Content, suffix,
		color.Gray.Sprint(m.ID))
}
