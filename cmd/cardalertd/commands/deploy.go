package commands

import (
	"fmt"
	"log/slog"
	"time"

	"cardalert-backend/lib/sqliteutil"
	"cardalert-backend/lib/telegram"
	"cardalert-backend/lib/util/serviceutil"
	"cardalert-backend/services/cardwatch"
	"cardalert-backend/services/cardwatch/db"

	"github.com/mazen160/go-random"
	"github.com/spf13/cobra"
)

const (
	deployCommandPrefix = "/ecard_deploy"
	deployTriggerLen    = 16
	deployWaitTimeout   = 300 * time.Second
)

func init() {
	rootCmd.AddCommand(deployCmd)
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Binds the bot to the chat that sends it a one-time deploy command.",
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
		slog.Info("deploying bot", "bot", botName)

		state, err := store.LoadDeployState(ctx)
		if err != nil {
			serviceutil.Fatal("failed to load deploy state", err)
		}
		if state.Deployed {
			slog.Info("the bot is already deployed, this will overwrite the previous binding")
		}

		suffix, err := random.String(deployTriggerLen)
		if err != nil {
			serviceutil.Fatal("failed to generate deploy command", err)
		}
		trigger := deployCommandPrefix + " " + suffix

		fmt.Println("Now send the following command to your Telegram bot:")
		fmt.Printf("\n%s\n\n", trigger)
		fmt.Printf("Please send the text within %d seconds.\n", int(deployWaitTimeout.Seconds()))

		chatID, ok, err := tg.WaitForMessage(ctx, trigger, deployWaitTimeout)
		if err != nil {
			serviceutil.Fatal("failed while waiting for the deploy command", err)
		}
		if !ok {
			slog.Warn("did not receive the command above in time")
			fmt.Println("1) Ensure you send exactly the same text to the bot.")
			fmt.Println("2) Double-check whether your api token corresponds to your bot's name.")
			return
		}

		err = store.SaveDeployState(ctx, cardwatch.DeployState{
			Deployed: true,
			ChatID:   chatID,
		})
		if err != nil {
			serviceutil.Fatal("failed to save deploy state", err)
		}
		if err := tg.SendMessage(ctx, chatID, "[INFO] Bot 成功部署。", telegram.SendOptions{}); err != nil {
			slog.Warn("failed to send the deploy confirmation", "err", err)
		}
		slog.Info("bot successfully deployed", "chat_id", chatID)
	},
}
