package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oxygenupdater/ota-agent/internal/database"
	"github.com/oxygenupdater/ota-agent/internal/models"
)

// NewNewsCmd creates the commands for reading cached news.
func NewNewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "news",
		Short: "List cached news articles",
		Long: `List the news articles cached by the last update check. Unread articles are marked with *.
  show   - Print an article and mark it read
  read   - Mark an article read
  unread - Mark an article unread`,
		RunE: listNews,
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print an article and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE:  showNews,
	}
	readCmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark an article read",
		Args:  cobra.ExactArgs(1),
		RunE:  markNews(true),
	}
	unreadCmd := &cobra.Command{
		Use:   "unread <id>",
		Short: "Mark an article unread",
		Args:  cobra.ExactArgs(1),
		RunE:  markNews(false),
	}

	cmd.AddCommand(showCmd, readCmd, unreadCmd)
	return cmd
}

func listNews(cmd *cobra.Command, _ []string) error {
	app, err := requireApp(cmd.Context())
	if err != nil {
		return err
	}

	items, err := database.NewNewsStore(app.DB).List(cmd.Context())
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No news cached, run check first")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabSpacing, ' ', 0)
	fmt.Fprintln(w, "\tID\tPUBLISHED\tTITLE")
	for _, item := range items {
		marker := "*"
		if item.Read {
			marker = ""
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", marker, item.ID, item.DatePublished.Local().Format(time.DateOnly), item.Title)
	}
	return w.Flush()
}

func showNews(cmd *cobra.Command, args []string) error {
	app, err := requireApp(cmd.Context())
	if err != nil {
		return err
	}
	id, err := parseNewsID(args[0])
	if err != nil {
		return err
	}

	store := database.NewNewsStore(app.DB)
	items, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	item, ok := findNews(items, id)
	if !ok {
		return fmt.Errorf("%w: %d", database.ErrNewsNotFound, id)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, item.Title)
	if item.Subtitle != "" {
		fmt.Fprintln(out, item.Subtitle)
	}
	fmt.Fprintf(out, "%s\n\n%s\n", item.DatePublished.Local().Format(time.DateOnly), item.Text)

	return store.MarkRead(cmd.Context(), id, true)
}

func markNews(read bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd.Context())
		if err != nil {
			return err
		}
		id, err := parseNewsID(args[0])
		if err != nil {
			return err
		}
		return database.NewNewsStore(app.DB).MarkRead(cmd.Context(), id, read)
	}
}

func parseNewsID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid news id %q", arg)
	}
	return id, nil
}

func findNews(items []models.NewsItem, id int64) (models.NewsItem, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return models.NewsItem{}, false
}
