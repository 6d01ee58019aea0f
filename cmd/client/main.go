// Command client is the reference test harness for the embeddable client
// library: a --pair flag selects the pairing operation, otherwise
// the remaining flags describe a commit operation, both dispatched
// against the daemon at the supplied dial address.
package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldops/emergency-git/client"
)

var rootCmd = &cobra.Command{
	Use:   "emergency-git",
	Short: "Pairs with, or sends an emergency commit to, an emergency-git daemon",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.Bool("pair", false, "Pair with the daemon instead of committing")
	flags.String("daemon", "", "Daemon dial address, /ip4/.../tcp/.../p2p/<peer-id>")
	flags.String("repo", "", "Path to the target git repository")
	flags.String("file", "", "Repository-relative file path to write")
	flags.String("content-file", "", "Path to a local file whose contents become the new file content")
	flags.String("message", "", "Commit message")
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	daemonAddr, _ := flags.GetString("daemon")
	if daemonAddr == "" {
		return fmt.Errorf("--daemon is required")
	}

	pair, _ := flags.GetBool("pair")
	if pair {
		if err := client.Pair(daemonAddr); err != nil {
			return err
		}
		fmt.Println("paired successfully")
		return nil
	}

	repoPath, _ := flags.GetString("repo")
	filePath, _ := flags.GetString("file")
	contentFile, _ := flags.GetString("content-file")
	message, _ := flags.GetString("message")

	contentBytes, err := ioutil.ReadFile(contentFile)
	if err != nil {
		return fmt.Errorf("failed to read content file: %w", err)
	}

	hash, err := client.Commit(daemonAddr, repoPath, filePath, string(contentBytes), message)
	if err != nil {
		return err
	}

	fmt.Println(hash)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
