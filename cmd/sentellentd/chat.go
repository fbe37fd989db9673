package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"Sentellent-Agent/internal/agent"
	"Sentellent-Agent/sdk/go/sentellent"
)

// chatReply 是终端需要展示的一轮结果。
type chatReply struct {
	Reply   string
	Status  string
	Pending bool
}

// chatBackend 抽象进程内与远程两种对话方式。
type chatBackend interface {
	message(ctx context.Context, userID, text string) (chatReply, error)
	confirm(ctx context.Context, userID string, decision agent.Decision, instruction string) (chatReply, error)
}

type localBackend struct{ svc *agent.Service }

func (b localBackend) message(ctx context.Context, userID, text string) (chatReply, error) {
	resp, err := b.svc.SubmitMessage(ctx, agent.Request{UserID: userID, Text: text})
	if err != nil {
		return chatReply{}, err
	}
	return chatReply{Reply: resp.Reply, Status: string(resp.Status), Pending: resp.PendingAction != nil}, nil
}

func (b localBackend) confirm(ctx context.Context, userID string, decision agent.Decision, instruction string) (chatReply, error) {
	resp, err := b.svc.SubmitConfirmation(ctx, agent.Confirmation{UserID: userID, Decision: decision, Instruction: instruction})
	if err != nil {
		return chatReply{}, err
	}
	return chatReply{Reply: resp.Reply, Status: string(resp.Status), Pending: resp.PendingAction != nil}, nil
}

type remoteBackend struct{ client *sentellent.Client }

func (b remoteBackend) message(ctx context.Context, userID, text string) (chatReply, error) {
	resp, err := b.client.SubmitMessage(ctx, userID, text, sentellent.NewIdempotencyKey())
	if err != nil {
		return chatReply{}, err
	}
	return chatReply{Reply: resp.Reply, Status: resp.Status, Pending: resp.PendingAction != nil}, nil
}

func (b remoteBackend) confirm(ctx context.Context, userID string, decision agent.Decision, instruction string) (chatReply, error) {
	resp, err := b.client.SubmitConfirmation(ctx, userID, string(decision), instruction, sentellent.NewIdempotencyKey())
	if err != nil {
		return chatReply{}, err
	}
	return chatReply{Reply: resp.Reply, Status: resp.Status, Pending: resp.PendingAction != nil}, nil
}

// chatLine 是解析后的一行输入。
type chatLine struct {
	quit        bool
	confirm     bool
	decision    agent.Decision
	instruction string
	text        string
}

// parseChatLine 识别 /yes、/no、/quit 命令，其余内容作为普通消息。
func parseChatLine(line string) chatLine {
	line = strings.TrimSpace(line)
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(cmd) {
	case "/quit", "/exit":
		return chatLine{quit: true}
	case "/yes", "/confirm":
		return chatLine{confirm: true, decision: agent.DecisionConfirm, instruction: rest}
	case "/no", "/cancel":
		return chatLine{confirm: true, decision: agent.DecisionCancel, instruction: rest}
	}
	return chatLine{text: line}
}

// runChat 逐行读取输入并打印回复，直到输入结束或 /quit。
func runChat(ctx context.Context, backend chatBackend, userID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := parseChatLine(scanner.Text())
		if line.quit {
			return nil
		}
		if !line.confirm && line.text == "" {
			fmt.Fprint(out, "> ")
			continue
		}
		var (
			reply chatReply
			err   error
		)
		if line.confirm {
			reply, err = backend.confirm(ctx, userID, line.decision, line.instruction)
		} else {
			reply, err = backend.message(ctx, userID, line.text)
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n> ", err)
			continue
		}
		fmt.Fprintln(out, reply.Reply)
		if reply.Pending {
			fmt.Fprintln(out, "(/yes to confirm, /no to cancel)")
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func newChatCmd(root *rootOptions) *cobra.Command {
	var (
		userID    string
		serverURL string
		token     string
		demo      bool
		showState bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if serverURL != "" {
				client, err := sentellent.NewClient(serverURL, nil)
				if err != nil {
					return err
				}
				client.SetAccessToken(token)
				if showState {
					sess, err := client.Session(ctx, userID)
					if err != nil {
						return err
					}
					return json.NewEncoder(cmd.OutOrStdout()).Encode(sess)
				}
				return runChat(ctx, remoteBackend{client: client}, userID, cmd.InOrStdin(), cmd.OutOrStdout())
			}

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			a, err := wireApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			a.runAuditor(ctx)
			if demo {
				if err := a.seedDemo(ctx, userID); err != nil {
					return err
				}
			}
			if showState {
				sess, err := a.agent.Session(ctx, userID)
				if err != nil {
					return err
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(sess)
			}
			return runChat(ctx, localBackend{svc: a.agent}, userID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "用户 ID")
	cmd.Flags().StringVar(&serverURL, "server", "", "远程服务地址，为空时在进程内运行")
	cmd.Flags().StringVar(&token, "token", "", "远程服务的访问令牌")
	cmd.Flags().BoolVar(&demo, "demo", false, "写入演示凭据、邮件与日程")
	cmd.Flags().BoolVar(&showState, "session", false, "打印当前会话后退出")
	return cmd
}
