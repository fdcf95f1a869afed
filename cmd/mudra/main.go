// Command mudra records hand gestures, trains a classifier on them and
// publishes live recognition results over UDP.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig   = "config"
	flagName     = "name"
	flagSamples  = "samples"
	flagReplay   = "replay"
	flagTray     = "tray"
	flagStatic   = "static"
	flagNoCamera = "no-camera"
	flagAddr     = "addr"
	flagHoldout  = "holdout"
	flagSeed     = "seed"
	flagReset    = "reset"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	replayFlag := &cli.PathFlag{
		Name:  flagReplay,
		Usage: "read landmarks from a JSON-lines replay file instead of the camera",
	}

	return &cli.App{
		Name:  "mudra",
		Usage: "record, train and recognize static hand gestures",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "path to config file (default ~/.mudra/config.yaml)",
				EnvVars: []string{"MUDRA_CONFIG"},
			},
		},
		HideHelpCommand: true,
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "write a default config file",
				Action: initAction,
			},
			{
				Name:      "record",
				Usage:     "record samples of a gesture",
				ArgsUsage: "[gesture]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagName,
						Aliases: []string{"n"},
						Usage:   "gesture name",
					},
					&cli.IntFlag{
						Name:  flagSamples,
						Usage: "samples to record (default: samples_per_gesture)",
					},
					replayFlag,
				},
				Action: recordAction,
			},
			{
				Name:   "train",
				Usage:  "train a model on the recorded dataset",
				Action: trainAction,
			},
			{
				Name:  "evaluate",
				Usage: "estimate accuracy on a holdout split without replacing the model",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  flagHoldout,
						Value: 0.2,
						Usage: "fraction of each gesture held out for testing",
					},
					&cli.Int64Flag{
						Name:  flagSeed,
						Value: 1,
						Usage: "shuffle seed",
					},
				},
				Action: evaluateAction,
			},
			{
				Name:  "run",
				Usage: "recognize gestures and publish results over UDP",
				Flags: []cli.Flag{
					replayFlag,
					&cli.BoolFlag{
						Name:  flagTray,
						Usage: "show a system tray menu",
					},
				},
				Action: runAction,
			},
			{
				Name:  "serve",
				Usage: "run recognition with the local HTTP control API",
				Flags: []cli.Flag{
					replayFlag,
					&cli.BoolFlag{
						Name:  flagNoCamera,
						Usage: "serve the API without opening the camera",
					},
					&cli.PathFlag{
						Name:  flagStatic,
						Usage: "directory of static files to serve at /",
					},
				},
				Action: serveAction,
			},
			{
				Name:   "gestures",
				Usage:  "list recorded gestures",
				Action: gesturesAction,
			},
			{
				Name:      "delete",
				Usage:     "delete a gesture and its samples",
				ArgsUsage: "<gesture>",
				Action:    deleteAction,
			},
			{
				Name:      "samples",
				Usage:     "show or change the default samples per gesture",
				ArgsUsage: "[n]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagReset,
						Usage: "restore the configured default",
					},
				},
				Action: samplesAction,
			},
			{
				Name:  "listen",
				Usage: "print results received on the publish address",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagAddr,
						Usage: "address to listen on (default: publish host and port)",
					},
				},
				Action: listenAction,
			},
		},
	}
}
