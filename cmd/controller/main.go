package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sutd_chunkdfs/controller"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/shell"
)

func main() {
	config := helper.DefaultControllerConfig
	flag.StringVar(&config.Address, "addr", config.Address, "Listen address for nodes and clients")
	flag.StringVar(&config.AdminAddress, "admin", helper.Address("", helper.CONTROLLER_ADMIN_PORT), "Admin HTTP address, empty to disable")
	flag.Int64Var(&config.Quota, "quota", config.Quota, "Capacity assumed for a newly registered chunk server, in bytes")
	flag.DurationVar(&config.MinorGrace, "minor-grace", config.MinorGrace, "Evict after this long without a minor heartbeat")
	flag.DurationVar(&config.MajorGrace, "major-grace", config.MajorGrace, "Evict after this long without a major heartbeat")
	flag.DurationVar(&config.EvictionSweep, "sweep", config.EvictionSweep, "How often to look for expired chunk servers")
	flag.StringVar(&config.Log.Level, "log-level", config.Log.Level, "Log level")
	flag.StringVar(&config.Log.File, "log-file", config.Log.File, "Write JSON logs to this file instead of stderr")
	flag.Parse()

	logger, closer, err := helper.NewLogger(config.Log, "controller")
	if err != nil {
		fmt.Fprintln(os.Stderr, "[Controller] Error opening log file:", err)
		os.Exit(1)
	}
	defer closer.Close()

	server, err := controller.NewServer(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start controller")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	console := shell.New("controller", os.Stdin, os.Stdout)
	console.Add(shell.Command{
		Name: "chunk-servers",
		Help: "List registered chunk servers with their capacity and files",
		Run: func(context.Context, []string) error {
			printChunkServers(console, server.Controller())
			return nil
		},
	})
	console.Add(shell.Command{
		Name: "clients",
		Help: "List registered clients",
		Run: func(context.Context, []string) error {
			rows := [][]string{}
			for _, identity := range server.Controller().Clients() {
				rows = append(rows, []string{identity})
			}
			shell.Table(console.Out(), []string{"Client"}, rows)
			return nil
		},
	})
	console.Run(ctx)

	stop()
	server.Close()
	if err := <-served; err != nil {
		logger.Error().Err(err).Msg("controller stopped with error")
	}
}

func printChunkServers(console *shell.Shell, c *controller.Controller) {
	rows := [][]string{}
	for _, info := range c.ChunkServers() {
		files := make([]string, 0, len(info.Files))
		for name, chunks := range info.Files {
			numbers := make([]string, 0, len(chunks))
			for _, n := range chunks {
				numbers = append(numbers, strconv.Itoa(n))
			}
			files = append(files, fmt.Sprintf("%s[%s]", name, strings.Join(numbers, ",")))
		}
		sort.Strings(files)
		rows = append(rows, []string{
			info.Identity,
			strconv.FormatInt(info.AvailableSpace, 10),
			strconv.FormatBool(info.Alive),
			info.LastMinorHeartbeat.Format(time.TimeOnly),
			info.LastMajorHeartbeat.Format(time.TimeOnly),
			strings.Join(files, " "),
		})
	}
	shell.Table(console.Out(), []string{"Chunk server", "Available", "Alive", "Last minor", "Last major", "Files"}, rows)
}
