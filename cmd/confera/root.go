package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/confera/confera/internal/client"
	"github.com/confera/confera/internal/ui"
	"github.com/confera/confera/internal/version"
)

var (
	flagServer string
	flagSTUN   string
	flagCodec  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "confera",
	Short: "Join Confera rooms from the terminal",
	Long: `Confera is a command-line client for the Confera room relay. It creates and
resolves rooms, lists public rooms, and joins a room to chat and negotiate
peer-to-peer WebRTC sessions with the other participants.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Relay server URL (env CONFERA_SERVER, default "+client.DefaultServer+")")
	rootCmd.PersistentFlags().StringVar(&flagSTUN, "stun", "", "STUN server (env CONFERA_STUN_SERVER)")
	rootCmd.PersistentFlags().StringVar(&flagCodec, "codec", "", "Relay wire codec: json or msgpack (env CONFERA_CODEC)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func loadConfig(adminSecret string) (*client.Config, error) {
	return client.Load(client.Options{
		Server:      flagServer,
		STUNServer:  flagSTUN,
		AdminSecret: adminSecret,
		Codec:       flagCodec,
	})
}
