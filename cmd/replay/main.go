// replay 命令行工具:按决策、计划或信号回放完整决策链路,输出 JSON。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/replay"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/store"
)

func main() {
	var (
		configPath string
		decisionID string
		planID     string
		signalID   string
		traderID   string
		status     string
		limit      int
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&decisionID, "decision", "", "按决策 ID 回放")
	flag.StringVar(&planID, "trade", "", "按交易计划 ID 回放")
	flag.StringVar(&signalID, "signal", "", "按信号 ID 回放，列出每个 trader 的链路")
	flag.StringVar(&traderID, "trader", "", "列表模式:按 trader 过滤")
	flag.StringVar(&status, "status", "", "列表模式:按状态过滤")
	flag.IntVar(&limit, "limit", 0, "列表模式:返回条数上限")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Database, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化数据库失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	svc := replay.NewService(st, nil)
	ctx := context.Background()

	var out any
	switch {
	case decisionID != "":
		out, err = svc.ReplayDecision(ctx, decisionID)
	case planID != "":
		out, err = svc.ReplayTrade(ctx, planID)
	case signalID != "":
		out, err = svc.ReplaySignal(ctx, signalID)
	default:
		out, err = svc.ListDecisions(ctx, store.DecisionFilter{
			TraderID: traderID,
			Status:   status,
			Limit:    limit,
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "回放失败: %v\n", err)
		os.Exit(1)
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "序列化失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
}
