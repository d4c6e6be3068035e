package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tanq16/flux/internal/engine"
	"github.com/tanq16/flux/internal/output"
	"github.com/tanq16/flux/internal/utils"
)

var (
	outputDir     string
	connections   int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	urlListFile   string
	imageMode     bool
	debug         bool
)

var FluxVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "flux [url]",
	Short:   "Flux is a controllable, progress-reporting download engine",
	Version: FluxVersion,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if len(args) == 0 && urlListFile == "" {
			output.PrintError("No URL or URL list provided")
			os.Exit(1)
		}
		if urlListFile != "" && len(args) > 0 {
			output.PrintError("Cannot specify url argument and --urllist together, choose one")
			os.Exit(1)
		}

		ctrl := engine.New(engine.Config{
			OutputDir: outputDir,
			HTTPClientConfig: utils.HTTPClientConfig{
				Timeout:       timeout,
				KATimeout:     kaTimeout,
				ProxyURL:      proxyURL,
				ProxyUsername: proxyUsername,
				ProxyPassword: proxyPassword,
				UserAgent:     userAgent,
				Headers:       utils.ParseHeaderArgs(headers),
			},
		})

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			output.PrintWarning("Cancelling download")
			ctrl.Cancel()
		}()

		entries := []utils.DownloadEntry{}
		if urlListFile != "" {
			var err error
			entries, err = utils.ReadDownloadList(urlListFile)
			if err != nil {
				output.PrintError(fmt.Sprintf("Failed to read URL list: %v", err))
				os.Exit(1)
			}
		} else {
			entries = append(entries, utils.DownloadEntry{URL: args[0], Connections: connections})
		}

		// One session at a time; batch entries run through the engine in order.
		failed := 0
		for _, entry := range entries {
			if err := runEntry(ctrl, entry); err != nil {
				output.PrintError(fmt.Sprintf("%s %v", output.StyleSymbols["fail"], err))
				failed++
			}
		}
		if failed > 0 {
			output.PrintError(fmt.Sprintf("Encountered %d failed download(s)", failed))
			os.Exit(1)
		}
	},
}

func runEntry(ctrl *engine.Controller, entry utils.DownloadEntry) error {
	label := entry.OutputPath
	if label == "" {
		label = utils.DeriveFileName(entry.URL)
	}
	bar := output.NewProgressBar(label)
	parts := entry.Connections
	if parts == 0 {
		parts = connections
	}
	if imageMode {
		result, err := ctrl.DownloadImage(context.Background(), entry.URL, bar)
		if err != nil {
			return err
		}
		if result.Format != "" {
			output.PrintSuccess(fmt.Sprintf("Downloaded %s image (%dx%d, %s)", result.Format, result.Width, result.Height, utils.FormatBytes(uint64(len(result.Data)))))
		} else {
			output.PrintSuccess(fmt.Sprintf("Downloaded %s (not a decodable image)", utils.FormatBytes(uint64(len(result.Data)))))
		}
		return nil
	}
	path, err := ctrl.DownloadFileAs(context.Background(), entry.URL, entry.OutputPath, bar, parts)
	if err != nil {
		return err
	}
	output.PrintSuccess(fmt.Sprintf("Saved to %s", path))
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// .env values seed flag defaults; explicit flags win.
	_ = godotenv.Load()
	defaultDir := os.Getenv("FLUX_OUTPUT_DIR")
	if defaultDir == "" {
		defaultDir = "."
	}
	defaultConnections := 1
	if v := os.Getenv("FLUX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			defaultConnections = n
		}
	}
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", defaultDir, "Output directory for downloaded files")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", defaultConnections, "Number of concurrent parts for multipart download")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Hour, "Download timeout")
	rootCmd.Flags().DurationVar(&kaTimeout, "ka-timeout", 60*time.Second, "Keep-alive timeout for HTTP connections")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", "", "Custom User-Agent")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP proxy URL")
	rootCmd.Flags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username")
	rootCmd.Flags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Custom header in 'Key: Value' format (repeatable)")
	rootCmd.Flags().StringVarP(&urlListFile, "urllist", "l", "", "YAML file with a list of downloads")
	rootCmd.Flags().BoolVar(&imageMode, "image", false, "Keep the download in memory and report decoded image info")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
