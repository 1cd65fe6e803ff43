package commands

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"fodetect/internal/auth"
	"fodetect/internal/database"

	"github.com/spf13/cobra"
)

// NewAddAdminCommand - создание администратора из командной строки.
// Usage: fodetect add-admin <username> <password>
func NewAddAdminCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add-admin <username> <password>",
		Short: "Create an administrator account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := strings.TrimSpace(args[0])
			password := args[1]
			if username == "" {
				return errors.New("имя пользователя не может быть пустым")
			}
			if err := auth.ValidatePassword(password); err != nil {
				return err
			}

			rt, err := openRuntime(*envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			id, err := rt.store.Admins.Create(cmd.Context(), username, hash)
			if errors.Is(err, database.ErrAdminExists) {
				return fmt.Errorf("администратор '%s' уже существует", username)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Администратор %s создан (ID %d)\n", username, id)
			return nil
		},
	}
}

// NewAuditCommand выводит последние записи журнала аудита.
func NewAuditCommand(envFile *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(*envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			entries, err := rt.store.Logs.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tADMIN\tACTION\tDETAILS")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
					e.ID, e.Timestamp.Format("2006-01-02 15:04:05"), e.AdminID, e.Action, e.Details.String)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of entries to show")
	return cmd
}
