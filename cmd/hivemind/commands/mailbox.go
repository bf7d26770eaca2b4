package commands

import (
	"strings"
	"time"

	"github.com/dyluth/hivemind/internal/watch"
	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/spf13/cobra"
)

var (
	sendBody     string
	sendPriority string
	sendAttrs    []string

	inboxPriority string
	inboxLimit    int
	inboxWait     time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send TO_WORKER_TYPE SUBJECT...",
	Short: "Send a message to every worker of a type",
	Example: `  hivemind send reviewer "PR 42 ready for review" -w coder --priority high
  hivemind send planner "blocked on credentials" -w coder --body "vault token expired" --attr task=T-7`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show messages addressed to this worker type",
	Long: `Show messages addressed to this worker type, most urgent first and newest
first within a priority. Messages are not removed.

With --wait, polls until a message newer than now arrives or the wait
elapses.`,
	Args: cobra.NoArgs,
	RunE: runInbox,
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&sendBody, "body", "", "Message body")
	f.StringVarP(&sendPriority, "priority", "p", string(knowledge.PriorityNormal), "Priority: low, normal, high or critical")
	f.StringSliceVar(&sendAttrs, "attr", nil, "Payload attribute key=value (repeatable)")

	f = inboxCmd.Flags()
	f.StringVarP(&inboxPriority, "priority", "p", "", "Only messages with this priority")
	f.IntVarP(&inboxLimit, "limit", "l", knowledge.DefaultReceiveLimit, "Maximum messages")
	f.DurationVar(&inboxWait, "wait", 0, "Wait up to this long for a new message")

	rootCmd.AddCommand(sendCmd, inboxCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	priority, err := parsePriority(sendPriority)
	if err != nil {
		return p.Error("invalid priority", err.Error(), []string{"Valid priorities: low, normal, high, critical"})
	}
	attrs, err := parseAttrs(sendAttrs)
	if err != nil {
		return p.Error("invalid attribute", err.Error(), nil)
	}
	client, err := newClient(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	msg, err := client.Send(cmd.Context(), args[0], knowledge.MessagePayload{
		Subject:    strings.Join(args[1:], " "),
		Body:       sendBody,
		Attributes: attrs,
	}, priority)
	if err != nil {
		if knowledge.IsValidationError(err) {
			return p.Error("invalid message", err.Error(), nil)
		}
		return gatewayError(cmd, "failed to send message", err)
	}

	p.Success("message %s sent to %s (%s)\n", msg.ID, msg.ToWorkerType, msg.Priority)
	return nil
}

func runInbox(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	priority, err := parsePriority(inboxPriority)
	if err != nil {
		return p.Error("invalid priority", err.Error(), []string{"Valid priorities: low, normal, high, critical"})
	}
	r, err := newRenderer(cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	q := knowledge.ReceiveQuery{Priority: priority, Limit: inboxLimit}
	if inboxWait <= 0 {
		return r.Messages(client.Receive(cmd.Context(), q))
	}

	msgs, err := watch.PollForMessages(cmd.Context(), client, q, time.Now().UTC(), inboxWait)
	if err != nil {
		return p.Error("no new messages", err.Error(), nil)
	}
	return r.Messages(msgs)
}
