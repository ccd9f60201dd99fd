package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xtbridge/internal/busclient"
	"xtbridge/internal/config"
	"xtbridge/internal/control"
)

var (
	sendAction      string
	sendStrategyID  string
	sendCodes       []string
	sendPeriods     []string
	sendSubID       string
	sendPreloadDays int
	sendTopic       string
	sendMode        string
)

const sendCommandAckTimeout = 5 * time.Second

var sendCommandCmd = &cobra.Command{
	Use:   "send-command",
	Short: "Publish one control command and print the ACK",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			exitf(2, "invalid config: %v", err)
			return
		}

		bus, err := busclient.New(cfg.Redis)
		if err != nil {
			exitf(1, "building bus client: %v", err)
			return
		}
		defer bus.Close()

		command := control.Command{
			Action:     sendAction,
			StrategyID: sendStrategyID,
			Codes:      sendCodes,
			Periods:    sendPeriods,
			SubID:      sendSubID,
			Topic:      sendTopic,
			Mode:       sendMode,
		}
		if sendPreloadDays >= 0 {
			command.PreloadDays = &sendPreloadDays
		}

		payload, err := json.Marshal(command)
		if err != nil {
			exitf(1, "encoding command: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendCommandAckTimeout)
		defer cancel()

		ackChannel := cfg.Control.AckPrefix + ":" + sendStrategyID
		sub := bus.Subscribe(ctx, ackChannel)
		defer sub.Close()
		if _, err := sub.Receive(ctx); err != nil {
			exitf(1, "subscribing to ACK channel: %v", err)
			return
		}

		if err := bus.Publish(ctx, cfg.Control.Channel, string(payload)); err != nil {
			exitf(1, "publishing command: %v", err)
			return
		}

		select {
		case msg := <-sub.Channel():
			fmt.Println(msg.Payload)
			var ack map[string]any
			if json.Unmarshal([]byte(msg.Payload), &ack) == nil {
				if ok, _ := ack["ok"].(bool); !ok {
					exitf(2, "command rejected: %v", ack["error"])
				}
			}
		case <-ctx.Done():
			exitf(1, "timed out waiting for ACK")
		}
	},
}
