package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vaultrag/internal/domain"
	"vaultrag/internal/usecase"
)

var (
	memoryConversation string
	memoryRole         string
	memoryShowAll      bool
	memoryJSON         bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage conversation history",
	Long: `Record and inspect the conversation history attached to queries.

Examples:
  vaultrag memory add -c chat1 --role user "what is RAG?"
  vaultrag memory show -c chat1          # messages the next query would see
  vaultrag memory show -c chat1 --all    # full history
  vaultrag memory clear -c chat1`,
}

var memoryAddCmd = &cobra.Command{
	Use:   "add [text...]",
	Short: "Append a message to a conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := parseRole(memoryRole)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		history, err := openHistory(ctx, GetConfig(), GetRootDir())
		if err != nil {
			return err
		}
		defer history.Close()

		return history.AppendMessage(ctx, domain.Message{
			ConversationID: memoryConversation,
			Role:           role,
			Content:        strings.Join(args, " "),
		})
	},
}

var memoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the history of a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := GetConfig()
		history, err := openHistory(ctx, cfg, GetRootDir())
		if err != nil {
			return err
		}
		defer history.Close()

		msgs, err := history.ListMessages(ctx, memoryConversation)
		if err != nil {
			return err
		}
		if !memoryShowAll {
			msgs = usecase.SelectMessages(msgs, cfg.Memory.Policy())
		}

		if memoryJSON {
			if msgs == nil {
				msgs = []domain.Message{}
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(msgs)
		}

		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Role, m.Content)
		}
		return nil
	},
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every message of a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		history, err := openHistory(ctx, GetConfig(), GetRootDir())
		if err != nil {
			return err
		}
		defer history.Close()

		if err := history.DeleteConversation(ctx, memoryConversation); err != nil {
			return fmt.Errorf("failed to clear conversation: %w", err)
		}
		fmt.Printf("Cleared conversation %s\n", memoryConversation)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryAddCmd, memoryShowCmd, memoryClearCmd)

	memoryCmd.PersistentFlags().StringVarP(&memoryConversation, "conversation", "c", "", "conversation id (required)")
	_ = memoryCmd.MarkPersistentFlagRequired("conversation")

	memoryAddCmd.Flags().StringVar(&memoryRole, "role", "user", "message role: user, assistant, system")
	memoryShowCmd.Flags().BoolVar(&memoryShowAll, "all", false, "show the full history instead of the memory window")
	memoryShowCmd.Flags().BoolVar(&memoryJSON, "json", false, "output as JSON")
}

func parseRole(s string) (domain.Role, error) {
	switch r := domain.Role(strings.ToLower(s)); r {
	case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
		return r, nil
	}
	return "", fmt.Errorf("unknown role: %q", s)
}
