package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sutd_chunkdfs/chunkserver"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/shell"
)

var errUsage = errors.New("usage: remove <name> [chunk]")

func main() {
	config := helper.DefaultChunkServerConfig
	flag.StringVar(&config.Address, "addr", config.Address, "Listen address, port 0 picks a free port")
	flag.StringVar(&config.AdvertiseHost, "host", config.AdvertiseHost, "Host other nodes use to reach this server")
	flag.StringVar(&config.ControllerAddress, "controller", config.ControllerAddress, "Controller address")
	flag.StringVar(&config.StorageRoot, "root", config.StorageRoot, "Directory chunk files are written under")
	flag.Int64Var(&config.Quota, "quota", config.Quota, "Storage quota in bytes")
	flag.DurationVar(&config.HeartbeatInterval, "heartbeat", config.HeartbeatInterval, "Heartbeat interval")
	flag.IntVar(&config.MajorEvery, "major-every", config.MajorEvery, "Send a major heartbeat every this many heartbeats")
	flag.StringVar(&config.AdminAddress, "admin", config.AdminAddress,
		fmt.Sprintf("Admin HTTP address such as :%d, empty to disable", helper.CHUNK_SERVER_ADMIN_PORT))
	flag.StringVar(&config.Log.Level, "log-level", config.Log.Level, "Log level")
	flag.StringVar(&config.Log.File, "log-file", config.Log.File, "Write JSON logs to this file instead of stderr")
	flag.Parse()

	logger, closer, err := helper.NewLogger(config.Log, "chunkserver")
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ChunkServer] Error opening log file:", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := chunkserver.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create chunk server")
	}
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to join the system")
	}

	console := shell.New("chunkserver", os.Stdin, os.Stdout)
	console.Add(shell.Command{
		Name: "my-info",
		Help: "Show identity, capacity and disk usage",
		Run: func(ctx context.Context, _ []string) error {
			info := server.Info(ctx)
			shell.Table(console.Out(), []string{"Field", "Value"}, [][]string{
				{"Identity", info.Identity},
				{"Controller", info.Controller},
				{"Storage dir", info.StorageDir},
				{"Available space", strconv.FormatInt(info.AvailableSpace, 10)},
				{"Stored bytes", strconv.FormatInt(info.StoredBytes, 10)},
				{"Files", strconv.Itoa(info.Files)},
				{"Chunks", strconv.Itoa(info.Chunks)},
				{"Corrupt chunks", strconv.Itoa(info.CorruptChunks)},
				{"Disk free", strconv.FormatUint(info.DiskFree, 10)},
				{"Disk used", fmt.Sprintf("%.1f%%", info.DiskUsedPercent)},
			})
			return nil
		},
	})
	console.Add(shell.Command{
		Name: "files",
		Help: "List the chunks stored on this server",
		Run: func(context.Context, []string) error {
			files := server.Store().FileMap()
			names := make([]string, 0, len(files))
			for name := range files {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				numbers := make([]string, 0, len(files[name]))
				for _, n := range files[name] {
					numbers = append(numbers, strconv.Itoa(n))
				}
				rows = append(rows, []string{name, strings.Join(numbers, ", ")})
			}
			shell.Table(console.Out(), []string{"File", "Chunks"}, rows)
			return nil
		},
	})
	console.Add(shell.Command{
		Name:  "remove",
		Usage: "<name> [chunk]",
		Help:  "Delete a stored file or one of its chunks",
		Run: func(_ context.Context, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return errUsage
			}
			chunk := 0
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 1 {
					return errUsage
				}
				chunk = n
			}
			if err := server.Remove(args[0], chunk); err != nil {
				return err
			}
			fmt.Fprintf(console.Out(), "Removed, %d bytes available\n", server.Store().AvailableSpace())
			return nil
		},
	})
	console.Run(ctx)

	deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Deregister(deregisterCtx); err != nil {
		logger.Error().Err(err).Msg("failed to deregister")
	}
	server.Close()
}
