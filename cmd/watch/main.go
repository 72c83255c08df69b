// Command watch follows a live contest leaderboard from the terminal.
//
//	watch -server http://localhost:3333 -contest "CQ WW CW" -callsign DL1XX -filter continent -value EU
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/lijuuu/ContestLivescoreService/internal/client"
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

func main() {
	server := flag.String("server", "http://localhost:3333", "livescore server address")
	contest := flag.String("contest", "", "contest to follow")
	callsign := flag.String("callsign", "", "monitored callsign")
	filterType := flag.String("filter", "none", "filter type: none, dxcc, cq_zone, iaru_zone, continent, category")
	filterValue := flag.String("value", "", "filter value")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *level, Format: "console", Output: os.Stderr})

	if *contest == "" {
		fmt.Fprintln(os.Stderr, "watch: -contest is required")
		flag.Usage()
		os.Exit(2)
	}
	url, err := client.WebSocketURL(*server)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid server address")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := client.NewWatcher(client.Config{
		URL:         url,
		Contest:     *contest,
		Callsign:    *callsign,
		FilterType:  *filterType,
		FilterValue: *filterValue,
	}, render)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("watch stopped")
	}
}

func render(v client.View) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\nnext update %s\n", v.NextUpdate.Local().Format("15:04:05"))
	fmt.Fprintln(tw, "#\tcall\tscore\tqsos\tmults\trate60\trate15\t")
	for _, e := range v.Stations {
		call := e.Callsign
		if e.Monitored {
			call = "*" + call
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\t%s\t\n",
			e.Position, call, e.Score, e.TotalQSOs, e.Multipliers, rate(e.TotalRate60), rate(e.TotalRate15))
	}
	tw.Flush()
}

func rate(r model.Rate) string {
	if !r.Valid {
		return "-"
	}
	return fmt.Sprint(r.Value)
}
