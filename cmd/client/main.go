package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sutd_chunkdfs/client"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/shell"
)

var errUsage = errors.New("wrong number of arguments")

func main() {
	config := helper.DefaultClientConfig
	flag.StringVar(&config.ControllerAddress, "controller", config.ControllerAddress, "Controller address")
	flag.StringVar(&config.DownloadDir, "dir", config.DownloadDir, "Directory downloads are written to")
	flag.StringVar(&config.Log.Level, "log-level", config.Log.Level, "Log level")
	flag.StringVar(&config.Log.File, "log-file", config.Log.File, "Write JSON logs to this file instead of stderr")
	flag.Parse()

	logger, closer, err := helper.NewLogger(config.Log, "client")
	if err != nil {
		fmt.Fprintln(os.Stderr, "[Client] Error opening log file:", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(config, logger)
	if err := c.Register(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to register with controller")
	}

	console := shell.New("client", os.Stdin, os.Stdout)
	console.Add(shell.Command{
		Name:  "upload",
		Usage: "<path>",
		Help:  "Upload a local file",
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			result, err := c.Upload(ctx, args[0])
			if err != nil {
				return err
			}
			shell.Table(console.Out(), []string{"File", "Bytes", "Chunks", "Chunk servers"}, [][]string{{
				result.FileName,
				strconv.FormatInt(result.Size, 10),
				strconv.Itoa(result.Chunks),
				strings.Join(result.ChunkServers, " -> "),
			}})
			return nil
		},
	})
	console.Add(shell.Command{
		Name:  "download",
		Usage: "<name>",
		Help:  "Download a file into the download directory",
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			result, err := c.Download(ctx, args[0], "")
			if err != nil {
				return err
			}
			missing := make([]string, 0, len(result.Missing))
			for _, n := range result.Missing {
				missing = append(missing, strconv.Itoa(n))
			}
			shell.Table(console.Out(), []string{"File", "Path", "Bytes", "Chunks", "Missing"}, [][]string{{
				result.FileName,
				result.Path,
				strconv.Itoa(len(result.Data)),
				strconv.Itoa(result.Chunks),
				strings.Join(missing, ", "),
			}})
			return nil
		},
	})
	console.Add(shell.Command{
		Name: "my-info",
		Help: "Show this client's identity",
		Run: func(context.Context, []string) error {
			shell.Table(console.Out(), []string{"Field", "Value"}, [][]string{
				{"Identity", c.Identity()},
				{"Controller", c.ControllerAddress()},
				{"Download dir", config.DownloadDir},
			})
			return nil
		},
	})
	console.Run(ctx)

	deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Deregister(deregisterCtx); err != nil {
		logger.Error().Err(err).Msg("failed to deregister")
	}
}
