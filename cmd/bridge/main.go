// Command bridge runs the multi-platform chat bridge: it loads the
// configured driver instances and routing rules from the data directory,
// starts one supervised task per instance, and relays messages between
// platforms until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
	"github.com/flowbridge/bridge/pkg/store"
	"github.com/flowbridge/bridge/pkg/supervisor"

	_ "github.com/flowbridge/bridge/pkg/drivers/dingtalk"
	_ "github.com/flowbridge/bridge/pkg/drivers/discord"
	_ "github.com/flowbridge/bridge/pkg/drivers/feishu"
	_ "github.com/flowbridge/bridge/pkg/drivers/googlechat"
	_ "github.com/flowbridge/bridge/pkg/drivers/kook"
	_ "github.com/flowbridge/bridge/pkg/drivers/matrix"
	_ "github.com/flowbridge/bridge/pkg/drivers/mattermost"
	_ "github.com/flowbridge/bridge/pkg/drivers/napcat"
	_ "github.com/flowbridge/bridge/pkg/drivers/rocketchat"
	_ "github.com/flowbridge/bridge/pkg/drivers/signal"
	_ "github.com/flowbridge/bridge/pkg/drivers/slack"
	_ "github.com/flowbridge/bridge/pkg/drivers/teams"
	_ "github.com/flowbridge/bridge/pkg/drivers/telegram"
	_ "github.com/flowbridge/bridge/pkg/drivers/vocechat"
	_ "github.com/flowbridge/bridge/pkg/drivers/webhook"
	_ "github.com/flowbridge/bridge/pkg/drivers/yunhu"
)

func main() {
	root := &cobra.Command{
		Use:   "bridge",
		Short: "Multi-platform chat bridge router",
		RunE:  runBridge,
	}
	root.AddCommand(newConvertCmd())

	if err := root.Execute(); err != nil {
		logger.CriticalCF("main", "fatal error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// runBridge loads configuration, wires the router and driver instances, and
// runs until SIGINT/SIGTERM.
func runBridge(cmd *cobra.Command, args []string) error {
	dataDir := config.DataPath()

	cfg, err := config.LoadFromDataDir(dataDir)
	if err != nil {
		return err
	}

	sensitive := config.ExtractSensitiveValues(cfg)
	logger.RegisterSensitive(sensitive)

	kinds, err := cfg.InstanceKinds()
	if err != nil {
		return err
	}

	rulesDoc, err := config.LoadRulesFromDataDir(dataDir)
	if err != nil {
		return err
	}
	rules, err := config.Compile(rulesDoc.Rules, kinds)
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	router := bridge.NewRouter(rules, bridge.SensitiveGuard(sensitive))

	msgDB, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("message store: %w", err)
	}
	defer msgDB.Close()

	var instances []supervisor.Instance
	for _, ic := range cfg.Instances() {
		d, err := driver.Build(ic.Driver, ic.ID, ic.Config, router)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", ic.Driver, ic.ID, err)
		}
		if sa, ok := d.(driver.StoreAware); ok {
			sa.SetStore(msgDB)
		}
		instances = append(instances, supervisor.Instance{Platform: ic.Driver, InstanceID: ic.ID, Driver: d})
	}
	if len(instances) == 0 {
		logger.WarnC("main", "no driver instances configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoCF("main", "starting bridge", map[string]any{
		"instances": len(instances), "rules": len(rules), "data_dir": dataDir,
	})
	supervisor.New(instances).Run(ctx)
	logger.InfoC("main", "bridge stopped")
	return nil
}
