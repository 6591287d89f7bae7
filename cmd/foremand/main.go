package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"foreman/internal/app"
)

func main() {
	var cfgPath string
	var once bool
	flag.StringVar(&cfgPath, "config", "./foreman.yaml", "path to config yaml/json")
	flag.BoolVar(&once, "once", false, "run a single materializer tick and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath, nil)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if once {
		results, err := a.RunOnce(ctx)
		stopErr := a.Stop(context.Background())
		if err != nil {
			fmt.Println("fatal tick:", err)
			os.Exit(1)
		}
		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("schedule %s: %v\n", r.ScheduleID, r.Err)
			}
		}
		if stopErr != nil {
			fmt.Println("stop:", stopErr)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}
