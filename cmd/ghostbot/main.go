package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/bit2swaz/ghostnet/internal/cipher"
	"github.com/bit2swaz/ghostnet/internal/config"
	"github.com/bit2swaz/ghostnet/internal/engine"
	"github.com/bit2swaz/ghostnet/internal/logger"
	"github.com/bit2swaz/ghostnet/internal/store"
)

func main() {
	target := flag.String("to", "127.0.0.1:37021", "Peer to send to, host or host:port")
	text := flag.String("text", "Hello from GhostBot", "Message to send, empty to skip")
	file := flag.String("file", "", "File to send after the message")
	name := flag.String("name", "GhostBot", "Username announced in beacons")
	linger := flag.Duration("linger", 5*time.Second, "How long to stay discoverable after sending")
	flag.Parse()

	// A throwaway identity so the bot never touches a real node's data.
	dir, err := os.MkdirTemp("", "ghostbot-*")
	if err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}
	defer os.RemoveAll(dir)
	if err := logger.Init(filepath.Join(dir, "bot.log"), logger.ParseLevel("debug")); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	settings := config.LoadSettings(filepath.Join(dir, "settings.json"))
	if err := settings.Set(config.KeyUsername, *name); err != nil {
		log.Fatalf("Invalid name: %v", err)
	}
	st, err := store.Open(filepath.Join(dir, "bot.db"), cipher.LoadOrCreateKeyFile(filepath.Join(dir, "secret.key")))
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	opts := engine.DefaultOptions()
	opts.MessagingPort = 0
	opts.DownloadsDir = filepath.Join(dir, "downloads")
	eng := engine.New(st, cipher.NewDaily(nil), settings, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer eng.Stop()
	fmt.Printf("%s up on udp %d, tcp %d\n", *name, eng.DiscoveryPort(), eng.MessagingPort())

	if *text != "" {
		fmt.Printf("Sending message to %s: %q\n", *target, *text)
		if err := eng.SendText(*target, *text); err != nil {
			log.Printf("Failed to send (is a node running there?): %v", err)
			return
		}
	}

	if *file != "" {
		fmt.Printf("Sending %s to %s...\n", *file, *target)
		task := eng.SendFile(*target, *file, func(sent, total int64) {
			fmt.Printf("\r  %d/%d bytes", sent, total)
		})
		err := task.Wait(ctx)
		fmt.Println()
		if err != nil {
			log.Printf("File transfer failed: %v", err)
			return
		}
	}

	fmt.Printf("Staying online for %s...\n", *linger)
	time.Sleep(*linger)
	fmt.Println("Bot shutting down")
}
