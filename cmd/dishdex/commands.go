package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/dishdex/internal/api"
	"github.com/kalambet/dishdex/internal/config"
)

// --- dishes ---

var dishesCmd = &cobra.Command{
	Use:   "dishes",
	Short: "Add, list and manage dishes",
}

var dishesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a dish from a photo",
	Long: `Add a dish. A photo is sent for analysis in the background; the dish
shows placeholder text until the analysis finishes.

Examples:
  dishdex dishes add --image ./moqueca.jpg
  dishdex dishes add --image ./bolo.png --name "Bolo da vó" --favorite
  dishdex dishes add --name "Feijoada" --owner 2 --notes "sábado"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, _ := cmd.Flags().GetString("image")
		name, _ := cmd.Flags().GetString("name")
		if imagePath == "" && name == "" {
			return fmt.Errorf("one of --image or --name is required")
		}

		fields := map[string]string{}
		if name != "" {
			fields["name"] = name
		}
		if owner, _ := cmd.Flags().GetInt64("owner"); owner > 0 {
			fields["owner_id"] = strconv.FormatInt(owner, 10)
		}
		if fav, _ := cmd.Flags().GetBool("favorite"); fav {
			fields["favorite"] = "true"
		}
		if notes, _ := cmd.Flags().GetString("notes"); notes != "" {
			fields["user_notes"] = notes
		}

		var image []byte
		if imagePath != "" {
			var err error
			if image, err = os.ReadFile(imagePath); err != nil {
				return fmt.Errorf("reading image: %w", err)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.postForm(cmd.Context(), "/dishes", fields, imagePath, image)
		if err != nil {
			return err
		}
		var d api.DishView
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}

		if image != nil {
			printSuccess("Added dish %d, analysis queued", d.ID)
		} else {
			printSuccess("Added dish %d", d.ID)
		}
		return nil
	},
}

var dishesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dishes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := scopeQuery(cmd)
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		return listDishes(cmd, "/dishes?"+q.Encode(), "No dishes yet.")
	},
}

var dishesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a dish with its pairing suggestions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/dishes/%d", id))
		if err != nil {
			return err
		}
		var d api.DishView
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeIndented(cmd.OutOrStdout(), d)
		}
		printDish(cmd.OutOrStdout(), d)
		return nil
	},
}

var dishesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a dish and its photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/dishes/%d", id))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted dish %d", id)
		return nil
	},
}

var dishesFavoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Toggle the favorite flag of a dish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/dishes/%d/favorite", id), nil)
		if err != nil {
			return err
		}
		var d api.DishView
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		if d.Favorite {
			printSuccess("Dish %d is now a favorite", id)
		} else {
			printSuccess("Dish %d is no longer a favorite", id)
		}
		return nil
	},
}

var dishesAnalyzeCmd = &cobra.Command{
	Use:   "analyze <id>",
	Short: "Queue a new analysis of a dish photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/dishes/%d/analyze", id), nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued analysis job %s", result["job_id"])
		return nil
	},
}

func init() {
	dishesAddCmd.Flags().String("image", "", "path to a PNG, JPEG or WEBP photo")
	dishesAddCmd.Flags().String("name", "", "dish name (analysis fills it in when empty)")
	dishesAddCmd.Flags().Int64("owner", 0, "owner id")
	dishesAddCmd.Flags().Bool("favorite", false, "mark as favorite")
	dishesAddCmd.Flags().String("notes", "", "personal notes")

	addScopeFlags(dishesListCmd)
	dishesListCmd.Flags().Int("limit", 20, "maximum number of dishes to list")
	dishesListCmd.Flags().Int("offset", 0, "number of dishes to skip")

	dishesShowCmd.Flags().Bool("json", false, "print the dish as JSON")

	dishesCmd.AddCommand(dishesAddCmd)
	dishesCmd.AddCommand(dishesListCmd)
	dishesCmd.AddCommand(dishesShowCmd)
	dishesCmd.AddCommand(dishesDeleteCmd)
	dishesCmd.AddCommand(dishesFavoriteCmd)
	dishesCmd.AddCommand(dishesAnalyzeCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over dishes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := scopeQuery(cmd)
		limit, _ := cmd.Flags().GetInt("limit")
		q.Set("search", strings.Join(args, " "))
		q.Set("limit", strconv.Itoa(limit))
		return listDishes(cmd, "/dishes?"+q.Encode(), "No results found.")
	},
}

func init() {
	addScopeFlags(searchCmd)
	searchCmd.Flags().Int("limit", 20, "maximum number of results")
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from stored dishes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Rebuilding search index...")
		resp, err := client.post(cmd.Context(), "/search/rebuild", nil)
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Indexed %s", plural(result["indexed"], "dish", "dishes"))
		return nil
	},
}

// --- owners ---

var ownersCmd = &cobra.Command{
	Use:   "owners",
	Short: "Manage dish owners",
}

var ownersAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an owner",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/owners", map[string]string{
			"name":  strings.Join(args, " "),
			"email": email,
		})
		if err != nil {
			return err
		}
		var o api.OwnerView
		if err := decodeJSON(resp, &o); err != nil {
			return err
		}
		printSuccess("Added owner %d (%s)", o.ID, o.Name)
		return nil
	},
}

var ownersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an owner and their eating profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/owners/%d", id))
		if err != nil {
			return err
		}
		var o api.OwnerView
		if err := decodeJSON(resp, &o); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", colorize(colorBold, o.Name), colorize(colorCyan, fmt.Sprintf("#%d", o.ID)))
		if o.Email != "" {
			fmt.Fprintf(out, "  Email:   %s\n", o.Email)
		}
		fmt.Fprintf(out, "  Profile: %s\n", o.EatingProfile)
		if o.ProfileUpdatedAt != "" {
			fmt.Fprintf(out, "  Updated: %s\n", o.ProfileUpdatedAt)
		}
		return nil
	},
}

func init() {
	ownersAddCmd.Flags().String("email", "", "owner email")
	ownersCmd.AddCommand(ownersAddCmd)
	ownersCmd.AddCommand(ownersShowCmd)
}

// --- profiles ---

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage eating profiles",
}

var profilesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Queue a regeneration of eating profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetInt64("owner")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]int64{}
		if owner > 0 {
			body["owner_id"] = owner
		}
		resp, err := client.post(cmd.Context(), "/profiles/refresh", body)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued profile refresh job %s", result["job_id"])
		return nil
	},
}

func init() {
	profilesRefreshCmd.Flags().Int64("owner", 0, "refresh only this owner")
	profilesCmd.AddCommand(profilesRefreshCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Show()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		for _, e := range cfg.Validate() {
			printWarning("%v", e)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret in the data directory",
	Long:  "Store a secret in the data directory. Valid keys:\n  " + strings.Join(config.SecretKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}

// --- helpers ---

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("owner", 0, "only dishes of this owner")
	cmd.Flags().Bool("favorites", false, "only favorite dishes")
}

func scopeQuery(cmd *cobra.Command) url.Values {
	q := url.Values{}
	if owner, _ := cmd.Flags().GetInt64("owner"); owner > 0 {
		q.Set("owner_id", strconv.FormatInt(owner, 10))
	}
	if fav, _ := cmd.Flags().GetBool("favorites"); fav {
		q.Set("favorites", "true")
	}
	return q
}

func listDishes(cmd *cobra.Command, path, empty string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(cmd.Context(), path)
	if err != nil {
		return err
	}
	var dishes []api.DishView
	if err := decodeJSON(resp, &dishes); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(dishes) == 0 {
		fmt.Fprintln(out, empty)
		return nil
	}
	for _, d := range dishes {
		printDishLine(out, d)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printDishLine(w io.Writer, d api.DishView) {
	star := " "
	if d.Favorite {
		star = "★"
	}
	desc := d.Description
	if r := []rune(desc); len(r) > 70 {
		desc = string(r[:70]) + "..."
	}
	fmt.Fprintf(w, "%s %s %s  %s\n",
		colorize(colorCyan, fmt.Sprintf("%5d", d.ID)),
		star,
		colorize(colorBold, d.Name),
		desc,
	)
}

func printDish(w io.Writer, d api.DishView) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, d.Name), colorize(colorCyan, fmt.Sprintf("#%d", d.ID)))
	if d.DishType != "" {
		fmt.Fprintf(w, "  Type:     %s\n", d.DishType)
	}
	if d.Favorite {
		fmt.Fprintf(w, "  Favorite: yes\n")
	}
	fmt.Fprintf(w, "\n  %s\n", d.Description)
	if d.CulturalContext != "" {
		fmt.Fprintf(w, "\n  %s\n", d.CulturalContext)
	}
	if len(d.Pairings) > 0 {
		fmt.Fprintf(w, "\n  %s\n", colorize(colorBold, "Pairings"))
		for _, p := range d.Pairings {
			line := fmt.Sprintf("    - [%s] %s", p.Type, p.Name)
			if p.Description != "" {
				line += ": " + p.Description
			}
			if p.EasterEgg {
				line += " " + colorize(colorYellow, "(easter egg)")
			}
			fmt.Fprintln(w, line)
		}
	}
	if d.UserNotes != "" {
		fmt.Fprintf(w, "\n  Notes: %s\n", d.UserNotes)
	}
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
