// Command daemon runs the emergency-git daemon role: it brings up
// the P2P substrate, loads the trust store, and dispatches pairing and
// commit requests arriving on the shared topic until interrupted. It
// composes config, node, and engine, then blocks on an interrupt
// channel until terminated.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldops/emergency-git/commitexec"
	"github.com/fieldops/emergency-git/config"
	"github.com/fieldops/emergency-git/daemon"
	"github.com/fieldops/emergency-git/identity"
	"github.com/fieldops/emergency-git/logging"
	"github.com/fieldops/emergency-git/p2p"
	"github.com/fieldops/emergency-git/trust"
)

var rootCmd = &cobra.Command{
	Use:   "emergency-gitd",
	Short: "Runs the emergency-git commit daemon",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.Bool("pair", false, "Enter pairing mode: accept PairRequest from new peers")
	flags.String("data-dir", config.DefaultDataDir, "Directory holding the trust store")
	flags.String("listen", "/ip4/0.0.0.0/tcp/0", "P2P listen multiaddr")

	viper.BindPFlag("pair", flags.Lookup("pair"))
	viper.BindPFlag("data-dir", flags.Lookup("data-dir"))
	viper.BindPFlag("listen", flags.Lookup("listen"))
}

func run(cmd *cobra.Command, args []string) error {
	log := logging.New().Module("daemon")
	cfg := config.NewDaemonConfigFromViper()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatal("failed to create data directory", "err", err.Error())
	}

	trustStore, err := trust.Load(cfg.TrustedPeersPath())
	if err != nil {
		log.Fatal("failed to load trust store", "err", err.Error())
	}

	id, err := identity.Generate()
	if err != nil {
		log.Fatal("failed to generate daemon identity", "err", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, events, err := p2p.Start(ctx, cfg.ListenAddress, id.PrivKey, p2p.RoleDaemon, log)
	if err != nil {
		log.Fatal("failed to start node", "err", err.Error())
	}
	defer node.Close()

	if err := node.Subscribe(config.Topic); err != nil {
		log.Fatal("failed to subscribe to topic", "err", err.Error())
	}
	node.Bootstrap(cfg.BootstrapPeers)

	log.Info("daemon ready", "peer_id", node.ID().Pretty(), "addr", node.FullAddr(), "pairing", cfg.PairingMode)

	engine := daemon.New(node, trustStore, commitexec.New(), cfg.PairingMode, log)
	go engine.Run(ctx, events)

	waitForInterrupt()
	return nil
}

func waitForInterrupt() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
