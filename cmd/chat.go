package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/roomline/internal/config"
	"github.com/BioHazard786/roomline/internal/identity"
	"github.com/BioHazard786/roomline/internal/logging"
	"github.com/BioHazard786/roomline/internal/media"
	"github.com/BioHazard786/roomline/internal/prefs"
	"github.com/BioHazard786/roomline/internal/store"
	"github.com/BioHazard786/roomline/internal/ui"
	"github.com/BioHazard786/roomline/internal/workspace"
)

var errRelayWithoutTURN = errors.New("cannot force relay mode without TURN server configured")

var (
	flagSignal     string
	flagRedis      string
	flagToken      string
	flagState      string
	flagLocal      bool
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagRelay      bool
	flagCamera     string
	flagMicrophone string
	flagDisplay    string
)

var chatCmd = &cobra.Command{
	Use:     "chat",
	Aliases: []string{"open"},
	Short:   "Open the chat and video client",
	Long: `Open the full screen client.

The Home tab lists threads and their messages, the Video tab lists rooms and
runs the call for the selected one. Camera, microphone and display are read
from IVF (VP8) and Ogg (Opus) files.

Examples:
  roomline chat --token "$(roomline token --name Ada)"
  roomline chat --local
  roomline chat --signal wss://rooms.example.com/ws --relay --turn turn.example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{
			SignalURL:  flagSignal,
			RedisAddr:  flagRedis,
			Token:      flagToken,
			StatePath:  flagState,
			STUNServer: flagSTUN,
			TURNServer: flagTURN,
			TURNUser:   flagTURNUser,
			TURNPass:   flagTURNPass,
			ForceRelay: flagRelay,
			Camera:     flagCamera,
			Microphone: flagMicrophone,
			Display:    flagDisplay,
		})
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), cfg)
	},
}

func runChat(ctx context.Context, cfg *config.Config) error {
	log := logging.For("chat")

	s, err := openStore(ctx, cfg, flagLocal)
	if err != nil {
		return err
	}
	defer s.Close()

	local, err := prefs.Open(cfg.StatePath)
	if err != nil {
		return err
	}

	auth := identity.NewProvider(identity.NewVerifier(cfg.Secret, cfg.Issuer))
	capture := media.NewCapturer(media.Devices{
		Camera:     cfg.Camera,
		Microphone: cfg.Microphone,
		Display:    cfg.Display,
	}, logging.For("media"))
	connect := media.NewConnector(cfg, logging.For("media"), media.WithDisplayName(func() string {
		if id := auth.Current(); id != nil {
			return id.DisplayName
		}
		return ""
	}))

	bridge := ui.NewBridge()
	ws := workspace.New(workspace.Options{
		Store:       s,
		Prefs:       local,
		Auth:        auth,
		Capture:     capture,
		Connect:     connect,
		CallTimeout: cfg.CallTimeout,
		DateFormat:  cfg.DateFormat,
		Logger:      log,
	}, bridge.Views())
	ws.Start(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ws.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("workspace closed with errors")
		}
	}()

	if cfg.Token != "" {
		id, err := auth.SignIn(cfg.Token)
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		log.Info().Str("user", id.ID).Msg("signed in from token")
	}

	return ui.Run(ctx, ws, bridge)
}

// openStore connects to Redis, or keeps everything in process with local.
func openStore(ctx context.Context, cfg *config.Config, local bool) (store.Store, error) {
	if local {
		return store.NewMemoryStore(), nil
	}

	stop := ui.RunConnectionSpinner("Connecting to " + cfg.Redis.Addr + "...")
	defer stop()
	return store.NewRedisStore(ctx, store.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	}, logging.For("store"))
}

func addICEFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	cmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	cmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	cmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	cmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagRedis, "redis", "", "Redis address")
	cmd.Flags().BoolVar(&flagLocal, "local", false, "Keep threads and messages in memory instead of Redis")
}

func init() {
	chatCmd.Flags().StringVar(&flagSignal, "signal", "", "Signaling server websocket URL")
	chatCmd.Flags().StringVar(&flagToken, "token", "", "Identity token to sign in with")
	chatCmd.Flags().StringVar(&flagState, "state", "", "Local state file")
	chatCmd.Flags().StringVar(&flagCamera, "camera", "", "Camera source (.ivf)")
	chatCmd.Flags().StringVar(&flagMicrophone, "microphone", "", "Microphone source (.ogg)")
	chatCmd.Flags().StringVar(&flagDisplay, "display", "", "Display source for screen share (.ivf)")
	addICEFlags(chatCmd)
	addStoreFlags(chatCmd)
	rootCmd.AddCommand(chatCmd)
}
