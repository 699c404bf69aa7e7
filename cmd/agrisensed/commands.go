package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrisense/agrisensed/internal/advisor"
	"github.com/agrisense/agrisensed/internal/config"
	"github.com/agrisense/agrisensed/internal/notify"
	"github.com/agrisense/agrisensed/internal/rules"
)

// --- advisor ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the farming advisor a question",
	Long: `Ask the farming advisor a question.

Examples:
  agrisensed ask "When should I sow wheat in Punjab?"
  agrisensed ask --language Hindi "How much urea per acre for rice?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		language, _ := cmd.Flags().GetString("language")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/chat", map[string]any{
			"question": strings.Join(args, " "),
			"language": language,
		})
		if err != nil {
			return err
		}

		var ans advisor.ChatAnswer
		if err := decodeJSON(resp, &ans); err != nil {
			return err
		}

		printSource(string(ans.Source), ans.Candidate)
		fmt.Fprintln(stdout, ans.Answer)
		return nil
	},
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Get prioritized actions for a sensor snapshot",
	Long: `Get prioritized actions for a sensor snapshot.

Examples:
  agrisensed recommend --moisture 25 --temperature 32 --ph 6.8 --nutrient Medium
  agrisensed recommend --moisture 55 --temperature 24 --ph 5.2 --nutrient Low --crop Rice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range []string{"moisture", "temperature", "ph", "nutrient"} {
			if !cmd.Flags().Changed(name) {
				return fmt.Errorf("--%s is required", name)
			}
		}
		moisture, _ := cmd.Flags().GetFloat64("moisture")
		temperature, _ := cmd.Flags().GetFloat64("temperature")
		ph, _ := cmd.Flags().GetFloat64("ph")
		nutrient, _ := cmd.Flags().GetString("nutrient")
		crop, _ := cmd.Flags().GetString("crop")
		location, _ := cmd.Flags().GetString("location")
		forecast, _ := cmd.Flags().GetString("forecast")
		language, _ := cmd.Flags().GetString("language")

		if _, err := rules.ParseNutrientTier(nutrient); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/recommendations", map[string]any{
			"moisture":         moisture,
			"temperature":      temperature,
			"ph":               ph,
			"nutrient_level":   nutrient,
			"crop_type":        crop,
			"location":         location,
			"weather_forecast": forecast,
			"language":         language,
		})
		if err != nil {
			return err
		}

		var recs advisor.Recommendations
		if err := decodeJSON(resp, &recs); err != nil {
			return err
		}

		printSource(string(recs.Source), recs.Candidate)
		for _, r := range recs.Recommendations {
			fmt.Fprintf(stdout, "%s %s [%s]\n    %s\n", r.Icon, colorize(colorBold, r.Title), priorityLabel(r.Priority), r.Action)
		}
		return nil
	},
}

func init() {
	recommendCmd.Flags().Float64("moisture", 0, "soil moisture percent")
	recommendCmd.Flags().Float64("temperature", 0, "air temperature in °C")
	recommendCmd.Flags().Float64("ph", 0, "soil pH")
	recommendCmd.Flags().String("nutrient", "", "nutrient level: Low, Medium or High")
	recommendCmd.Flags().String("crop", "", "crop type")
	recommendCmd.Flags().String("location", "", "farm location")
	recommendCmd.Flags().String("forecast", "", "weather forecast text")
	recommendCmd.Flags().String("language", "", "answer language (default English)")
	askCmd.Flags().String("language", "", "answer language (default English)")
}

func priorityLabel(p rules.Priority) string {
	switch p {
	case rules.PriorityHigh:
		return colorize(colorRed, string(p))
	case rules.PriorityMedium:
		return colorize(colorYellow, string(p))
	}
	return colorize(colorGreen, string(p))
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <photo>",
	Short: "Diagnose a crop photo",
	Long: `Diagnose a crop photo.

Examples:
  agrisensed diagnose --crop Tomato ./leaf.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		crop, _ := cmd.Flags().GetString("crop")
		if crop == "" {
			return fmt.Errorf("--crop is required")
		}

		uri, err := photoDataURI(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/diagnose", map[string]any{
			"photo_data_uri": uri,
			"crop_type":      crop,
		})
		if err != nil {
			return err
		}

		var res advisor.DiagnosisResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSource(string(res.Source), res.Candidate)
		printStatus("Identification", "%s (%.0f%% confidence)", res.Identification, res.Confidence*100)
		printStatus("Severity", "%s", res.Severity)
		fmt.Fprintln(stdout, res.Description)
		if res.OrganicTreatment != "" {
			fmt.Fprintf(stdout, "\n%s\n%s\n", colorize(colorBold, "Organic treatment:"), res.OrganicTreatment)
		}
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().String("crop", "", "crop shown in the photo")
}

// photoDataURI reads an image file into a base64 data URI.
func photoDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading photo: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg":
			mime = "image/jpeg"
		case ".png":
			mime = "image/png"
		case ".webp":
			mime = "image/webp"
		default:
			return "", fmt.Errorf("%s does not look like an image (%s)", path, mime)
		}
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// --- notifications ---

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notes"},
	Short:   "Show or manage the notification log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listNotifications(cmd)
	},
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listNotifications(cmd)
	},
}

type notificationList struct {
	Notifications []notify.Record   `json:"notifications"`
	Unread        int               `json:"unread"`
	Permission    notify.Permission `json:"permission"`
}

func listNotifications(cmd *cobra.Command) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(cmd.Context(), "/v1/notifications")
	if err != nil {
		return err
	}

	var list notificationList
	if err := decodeJSON(resp, &list); err != nil {
		return err
	}

	if asJSON {
		return printJSON(list)
	}

	if len(list.Notifications) == 0 {
		fmt.Fprintln(stdout, "No notifications.")
		return nil
	}
	for _, n := range list.Notifications {
		marker := " "
		if !n.Read {
			marker = colorize(colorCyan, "●")
		}
		fmt.Fprintf(stdout, "%s %s %s  %s\n    %s\n", marker, n.Icon, colorize(colorBold, n.Title), timeAgo(n.Timestamp, time.Now()), n.Body)
	}
	printStatus("Unread", "%d", list.Unread)
	return nil
}

// timeAgo renders a coarse relative time the way the notification panel does.
func timeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	}
	return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
}

var notificationsAddCmd = &cobra.Command{
	Use:   "add <title> <body>",
	Short: "Add a notification",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		icon, _ := cmd.Flags().GetString("icon")
		link, _ := cmd.Flags().GetString("url")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/notifications", map[string]any{
			"title": args[0],
			"body":  args[1],
			"icon":  icon,
			"url":   link,
		})
		if err != nil {
			return err
		}

		var rec notify.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		printSuccess("Added notification %s", rec.ID)
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Mark all notifications as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/notifications/read", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("All notifications marked as read")
		return nil
	},
}

var notificationsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/notifications")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Notifications cleared")
		return nil
	},
}

var notificationsPermissionCmd = &cobra.Command{
	Use:   "enable",
	Short: "Request permission to show alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/notifications/permission", nil)
		if err != nil {
			return err
		}
		var result struct {
			Permission notify.Permission `json:"permission"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Permission != notify.PermissionGranted {
			printWarning("Notification permission: %s", result.Permission)
			return nil
		}
		printSuccess("Notifications enabled")
		return nil
	},
}

func init() {
	notificationsCmd.PersistentFlags().Bool("json", false, "print the raw JSON response")
	notificationsAddCmd.Flags().String("icon", "", "emoji icon (default 🔔)")
	notificationsAddCmd.Flags().String("url", "", "in-app path opened by the notification")
	notificationsCmd.AddCommand(notificationsListCmd, notificationsAddCmd, notificationsReadCmd,
		notificationsClearCmd, notificationsPermissionCmd)
}

// --- push ---

var pushCmd = &cobra.Command{
	Use:   "push [payload]",
	Short: "Deliver a push payload (JSON or plain text; stdin when omitted)",
	Long: `Deliver a push payload through the edge intermediary.

Examples:
  agrisensed push "Mandi prices updated"
  agrisensed push '{"title":"Rain","body":"Heavy rain tonight","url":"/weather"}'
  echo '{"body":"Frost warning"}' | agrisensed push`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload []byte
		if len(args) == 1 {
			payload = []byte(args[0])
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			payload = data
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/push", payload)
		if err != nil {
			return err
		}
		var rec notify.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		printSuccess("Delivered %q", rec.Title)
		return nil
	},
}

// --- background sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Queue or replay background-sync items",
}

var syncQueueCmd = &cobra.Command{
	Use:   "queue <tag> <id> <json-payload>",
	Short: "Queue an item for replay to the origin",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, id, payload := args[0], args[1], args[2]
		if !json.Valid([]byte(payload)) {
			return fmt.Errorf("payload must be valid JSON")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/sync/"+url.PathEscape(tag), map[string]any{
			"id":      id,
			"payload": json.RawMessage(payload),
		})
		if err != nil {
			return err
		}
		var result struct {
			Queued bool `json:"queued"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result.Queued {
			printWarning("%s/%s was already queued", tag, id)
			return nil
		}
		printSuccess("Queued %s/%s", tag, id)
		return nil
	},
}

var syncReplayCmd = &cobra.Command{
	Use:   "replay <tag>",
	Short: "Replay every queued item for tag now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/sync/"+url.PathEscape(args[0])+"/replay", nil)
		if err != nil {
			return err
		}
		var rep struct {
			Replayed int `json:"replayed"`
			Retrying int `json:"retrying"`
		}
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}
		printSuccess("Replayed %d item(s), %d rescheduled", rep.Replayed, rep.Retrying)
		return nil
	},
}

var syncRefreshCmd = &cobra.Command{
	Use:   "refresh <tag>",
	Short: "Run a periodic-sync tag now (refresh its cached routes)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/periodic-sync/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Refreshed %s", args[0])
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncQueueCmd, syncReplayCmd, syncRefreshCmd)
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
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
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

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable configuration keys and their environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		envs := make(map[string]string)
		for _, k := range config.ShowAll(config.Config{}) {
			envs[k.Key] = k.EnvVar
		}
		for _, key := range config.ValidKeys() {
			fmt.Fprintf(stdout, "  %-32s %s\n", key, colorize(colorDim, envs[key]))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configKeysCmd)
}
