package main

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/bit2swaz/ghostnet/internal/config"
	"github.com/bit2swaz/ghostnet/internal/netinfo"
	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <peer-ip>",
	Short: "Print the conversation with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		name, ok := st.PeerName(args[0])
		if !ok {
			name = args[0]
		}
		for _, e := range st.History(args[0], historyLimit) {
			ts := time.Unix(int64(e.Timestamp), 0).Format("2006-01-02 15:04:05")
			who := name
			if e.Sender == store.SenderSelf {
				who = "You"
			}
			content := e.Content
			if e.Kind == store.KindFile {
				content = "[FILE] " + content
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", ts, who, content)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <peer-ip> <file>",
	Short: "Write a plaintext copy of a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if !st.ExportPlaintext(args[0], args[1]) {
			return fmt.Errorf("export to %s failed, see log", args[1])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", args[1])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		s := st.Statistics()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Messages: %d\nPeers:    %d\n", s.TotalMessages, s.TotalPeers)
		if s.Oldest != nil && s.Newest != nil {
			fmt.Fprintf(out, "Oldest:   %s\nNewest:   %s\n", formatUnix(*s.Oldest), formatUnix(*s.Newest))
		}
		for _, p := range st.AllPeers() {
			fmt.Fprintf(out, "  %-15s %-20s last seen %s\n", p.Address, p.Username, formatUnix(p.LastSeen))
		}
		return nil
	},
}

var cleanupHours int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete messages older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		hours := cleanupHours
		if hours <= 0 {
			hours = config.LoadSettings(cfg.SettingsPath()).RetentionHours()
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		n := st.CleanupOlderThan(hours)
		st.Vacuum()
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages older than %dh\n", n, hours)
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <peer-ip>",
	Short: "Delete the conversation with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages\n", st.DeleteHistory(args[0]))
		return nil
	},
}

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List usable network interfaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := &netinfo.Detector{}
		list := d.List()
		sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tADDRESS\tNETMASK\tTYPE\tACTIVE")
		for _, iface := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", iface.Name, iface.Address, iface.Netmask, iface.Type, iface.Active)
		}
		w.Flush()

		addr, kind := d.Best()
		fmt.Fprintf(cmd.OutOrStdout(), "\nSelected: %s (%s)\n", addr, kind)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show this node's name and a pairing QR code",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.LoadSettings(cfg.SettingsPath())
		addr, kind := (&netinfo.Detector{}).Best()
		url := "ghostnet://" + net.JoinHostPort(addr, strconv.Itoa(cfg.MessagingPort))

		qr, err := qrcode.New(url, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("generate QR: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Username: %s\nAddress:  %s (%s)\n", settings.Username(), addr, kind)
		fmt.Fprintln(out, qr.ToString(false))
		fmt.Fprintln(out, "URL:", url)
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change persisted settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := config.LoadSettings(cfg.SettingsPath()).Values()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\n", config.KeyUsername, v.Username)
		fmt.Fprintf(w, "%s\t%d\n", config.KeyRetentionHours, v.RetentionHours)
		fmt.Fprintf(w, "%s\t%t\n", config.KeyAutoCleanup, v.AutoCleanup)
		fmt.Fprintf(w, "%s\t%t\n", config.KeySaveFiles, v.SaveFiles)
		fmt.Fprintf(w, "%s\t%d\n", config.KeyMaxFileSizeMB, v.MaxFileSizeMB)
		fmt.Fprintf(w, "%s\t%t\n", config.KeyDarkMode, v.DarkMode)
		fmt.Fprintf(w, "%s\t%t\n", config.KeyNotificationSound, v.NotificationSound)
		return w.Flush()
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadSettings(cfg.SettingsPath()).Set(args[0], args[1])
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore defaults, keeping the username",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.LoadSettings(cfg.SettingsPath()).ResetToDefaults()
		return nil
	},
}

var wipeConfirm bool

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Destroy the database, key, settings and received files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeConfirm {
			return errors.New("refusing to wipe without --yes")
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		removed := st.RemoveReceivedFiles()
		extra := []string{cfg.KeyPath(), cfg.SettingsPath()}
		// A configured downloads directory may be shared, so only files we
		// recorded receiving are deleted from it.
		if downloads := cfg.ResolveDownloadsDir(); config.OwnsDownloadsDir(downloads) {
			extra = append(extra, downloads)
		}
		if err := st.Wipe(extra...); err != nil {
			return fmt.Errorf("wipe incomplete: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "All local data destroyed (%d received files)\n", removed)
		return nil
	},
}

func formatUnix(ts float64) string {
	return time.Unix(int64(ts), 0).Format("2006-01-02 15:04:05")
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 100, "Most recent messages to show")
	cleanupCmd.Flags().IntVar(&cleanupHours, "hours", 0, "Retention window, defaults to the retention_hours setting")
	wipeCmd.Flags().BoolVar(&wipeConfirm, "yes", false, "Confirm the wipe")

	settingsCmd.AddCommand(settingsSetCmd, settingsResetCmd)
	rootCmd.AddCommand(historyCmd, exportCmd, statsCmd, cleanupCmd, forgetCmd, interfacesCmd, whoamiCmd, settingsCmd, wipeCmd)
}
