package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cardalert-backend/lib/restyutil"
	"cardalert-backend/lib/scrapers/buptvpn"
	"cardalert-backend/lib/scrapers/ecard"
	"cardalert-backend/lib/sqliteutil"
	"cardalert-backend/lib/telegram"
	"cardalert-backend/lib/telemetry"
	"cardalert-backend/lib/util/serviceutil"
	"cardalert-backend/services/cardwatch"
	"cardalert-backend/services/cardwatch/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	debugFlag  *bool
	configFlag *string
)

func init() {
	debugFlag = rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging and debug loop behavior.")
	configFlag = rootCmd.PersistentFlags().String("config", "config.json5", "Path to the config file.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUserInfo(info ecard.UserInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Id", "Name", "Role"})
	t.AppendRow(table.Row{info.ID, info.Name, info.Role})
	t.Render()
}

var rootCmd = &cobra.Command{
	Use:   "cardalertd",
	Short: "cardalertd polls the campus card portal and pushes spending alerts over Telegram.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*debugFlag)
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := readConfig(*configFlag)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		database, err := sqliteutil.OpenDB(db.Schema, cfg.Database)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer database.Close()
		store := cardwatch.NewStore(database)

		state, err := store.LoadDeployState(ctx)
		if err != nil {
			serviceutil.Fatal("failed to load deploy state", err)
		}
		if !state.Deployed {
			serviceutil.Fatal(
				"the bot is not yet deployed",
				fmt.Errorf("run `cardalertd deploy` first"),
			)
		}

		tg, err := telegram.NewClient(telegram.ClientOptions{
			Token: cfg.Bot.ApiToken,
			Proxy: cfg.Proxy.Url,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize telegram client", err)
		}
		botName, err := tg.BotName(ctx)
		if err != nil {
			serviceutil.Fatal("failed to resolve bot identity, check the api token", err)
		}
		fmt.Printf("Bot username: %s\n", botName)

		// the card portal is served through the vpn gateway's host, so
		// both scrapers must share one cookie jar
		portalHttp, err := restyutil.NewClient(restyutil.ClientOptions{
			Name:        "scrapers/portal",
			BrowserShim: true,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize portal http client", err)
		}
		vpnClient, err := buptvpn.NewClient(portalHttp, buptvpn.ClientOptions{})
		if err != nil {
			serviceutil.Fatal("failed to initialize vpn client", err)
		}
		cardClient := ecard.NewClient(portalHttp, ecard.ClientOptions{})

		source := cardwatch.NewPortalSource(
			vpnClient, cardClient,
			cardwatch.Credentials{Username: cfg.Vpn.Username, Password: cfg.Vpn.Password},
			cardwatch.Credentials{Username: cfg.Ecard.Username, Password: cfg.Ecard.Password},
			max(cfg.Loop.LookupWindowDays, cardwatch.DefaultLookupWindowDays),
		)
		notifier := cardwatch.TelegramNotifier{Client: tg, ChatID: state.ChatID}

		telemetry.InstrumentPerfStats(ctx)

		service := cardwatch.NewService(source, store, notifier, cardwatch.Options{
			LookupWindowDays: cfg.Loop.LookupWindowDays,
			MergeThreshold:   cfg.Loop.MergeThresholdCents,
			DayInterval:      time.Duration(cfg.Loop.DayIntervalSeconds) * time.Second,
			NightInterval:    time.Duration(cfg.Loop.NightIntervalSeconds) * time.Second,
			Debug:            *debugFlag,
			OnVerified:       printUserInfo,
		})

		err = service.Run(ctx)
		if errors.Is(err, context.Canceled) {
			fmt.Println("shutting down")
			return
		}

		// best effort: tell the user the server died before exiting
		notifyCtx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()
		_ = tg.SendMessage(notifyCtx, state.ChatID,
			fmt.Sprintf("[ERROR] 服务器发生异常：\n%v", err),
			telegram.SendOptions{Silent: true},
		)
		serviceutil.Fatal("server died", err)
	},
}
