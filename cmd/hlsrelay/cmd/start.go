package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsrelay/internal/source"
)

var (
	startTitle           string
	startWaitForComplete bool
	startDescriptorType  string
	startLANHost         string
	startBlocksCoreKey   string
	startBlockOffset     int64
	startBlockLength     int64
	startByteOffset      int64
	startByteLength      int64
)

var startCmd = &cobra.Command{
	Use:   "start <source>",
	Short: "Start a transcoding session and serve it over HTTP",
	Long: `Start opens source (a URL for progressive-http/range-http, or a block
log key for local-block), begins transcoding it to HLS, and serves the
result until the session completes, fails, or the process receives a
shutdown signal.

It prints the session id and the playlist URLs a client should use:
playlistUrlLocal for same-host playback, playlistUrlLan for other devices
on the local network.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startTitle, "title", "", "descriptive title, consulted by the transcode-need classifier")
	startCmd.Flags().BoolVar(&startWaitForComplete, "wait-for-complete", false, "wait for the full source to download before transcoding begins")
	startCmd.Flags().StringVar(&startDescriptorType, "type", source.DescriptorProgressiveHTTP, "source descriptor type: progressive-http, range-http, local-block")
	startCmd.Flags().StringVar(&startLANHost, "lan-host", "", "LAN-reachable host:port override (default: first non-internal IPv4)")
	startCmd.Flags().StringVar(&startBlocksCoreKey, "blocks-core-key", "", "local-block: block log key")
	startCmd.Flags().Int64Var(&startBlockOffset, "block-offset", 0, "local-block: starting block index")
	startCmd.Flags().Int64Var(&startBlockLength, "block-length", 0, "local-block: number of blocks")
	startCmd.Flags().Int64Var(&startByteOffset, "byte-offset", 0, "local-block: byte offset within the first block")
	startCmd.Flags().Int64Var(&startByteLength, "byte-length", 0, "local-block: total byte length")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	d, err := buildDescriptor(args[0])
	if err != nil {
		return fmt.Errorf("building source descriptor: %w", err)
	}

	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	server := newServer(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lanHost := startLANHost
	if lanHost == "" {
		lanHost = lanAddress(cfg.Server.Port)
	}

	sess, err := mgr.Start(ctx, d, startTitle, lanHost)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	playlistPath := fmt.Sprintf("/hls/%s/stream.m3u8", sess.ID)
	fmt.Printf("sessionId: %s\n", sess.ID)
	fmt.Printf("playlistUrlLocal: http://127.0.0.1:%d%s\n", cfg.Server.Port, playlistPath)
	fmt.Printf("playlistUrlLan: http://%s%s\n", lanHost, playlistPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting hlsrelay server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("session", sess.ID),
	)
	return server.ListenAndServe(ctx)
}

func buildDescriptor(src string) (source.Descriptor, error) {
	switch startDescriptorType {
	case source.DescriptorProgressiveHTTP, source.DescriptorRangeHTTP:
		return source.Descriptor{
			Type:            startDescriptorType,
			URL:             src,
			WaitForComplete: startWaitForComplete,
		}, nil
	case source.DescriptorLocalBlock:
		return source.Descriptor{
			Type:          startDescriptorType,
			BlocksCoreKey: startBlocksCoreKey,
			BlockOffset:   startBlockOffset,
			BlockLength:   startBlockLength,
			ByteOffset:    startByteOffset,
			ByteLength:    startByteLength,
		}, nil
	default:
		return source.Descriptor{}, fmt.Errorf("unknown descriptor type %q", startDescriptorType)
	}
}

// lanAddress returns the first non-internal IPv4 address found on any
// interface, preferring one in 192.168.0.0/16, combined with port. Falls
// back to 127.0.0.1 if no such address is found (e.g. no network).
func lanAddress(port int) string {
	ip := firstNonInternalIPv4()
	if ip == "" {
		ip = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", ip, port)
}

func firstNonInternalIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}

	var fallback string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		if ip4[0] == 192 && ip4[1] == 168 {
			return ip4.String()
		}
		if fallback == "" {
			fallback = ip4.String()
		}
	}
	return fallback
}
