package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/publish"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/tray"
)

const pollInterval = 100 * time.Millisecond

// env is what every command gets after configuration is loaded.
type env struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	app    *app.App
}

func loadConfig(c *cli.Context) (*config.Config, *zap.SugaredLogger, func() error, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.Load(c.Path(flagConfig))
	if err != nil {
		if config.IsConfigNotFound(err) {
			return nil, nil, nil, fmt.Errorf("%w; run `mudra init` to create one", err)
		}
		return nil, nil, nil, err
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closeLog, nil
}

// withConfig runs fn with configuration and logging set up and a context
// cancelled on SIGINT or SIGTERM.
func withConfig(c *cli.Context, fn func(ctx context.Context, e *env) error) (err error) {
	cfg, logger, closeLog, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeLog()) }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, &env{cfg: cfg, logger: logger})
}

// withApp is withConfig plus an opened App, closed when fn returns.
func withApp(c *cli.Context, fn func(ctx context.Context, e *env) error) error {
	return withConfig(c, func(ctx context.Context, e *env) (err error) {
		a, err := app.New(e.cfg, e.logger)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, a.Close()) }()
		e.app = a
		return fn(ctx, e)
	})
}

// startSource starts the pipeline on the replay file if one was given and
// on the camera otherwise.
func startSource(ctx context.Context, c *cli.Context, a *app.App) error {
	path := c.Path(flagReplay)
	if path == "" {
		return a.StartCamera(ctx)
	}
	src, err := detector.OpenReplayFile(path)
	if err != nil {
		return err
	}
	if err := a.Start(ctx, src); err != nil {
		return multierr.Append(err, src.Close())
	}
	return nil
}

func initAction(c *cli.Context) error {
	path := c.Path(flagConfig)
	if path == "" {
		path = config.DefaultPath()
	}
	created, err := config.WriteDefaultTemplate(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(c.App.Writer, "wrote %s\nset confidence_threshold in it before running other commands\n", path)
	} else {
		fmt.Fprintf(c.App.Writer, "%s already exists\n", path)
	}
	return nil
}

func recordAction(c *cli.Context) error {
	name := c.String(flagName)
	if name == "" {
		name = c.Args().First()
	}
	if name == "" {
		return errors.New("gesture name is required")
	}

	return withApp(c, func(ctx context.Context, e *env) error {
		p := e.app.Pipeline()
		rec, err := p.StartRecording(ctx, name, c.Int(flagSamples))
		if err != nil {
			return err
		}
		out := c.App.Writer
		fmt.Fprintf(out, "recording %q: %d of %d samples present, hold the gesture in view\n",
			rec.Gesture, rec.Start, rec.Target)

		if err := startSource(ctx, c, e.app); err != nil {
			return multierr.Append(err, stopRecording(p))
		}

		done := make(chan error, 1)
		go func() { done <- e.app.Wait() }()

		progress := newRecordProgress(rec.Gesture, rec.Start, rec.Target, out)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		var loopErr error
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case loopErr = <-done:
				break loop
			case <-ticker.C:
				r, _ := p.Recording()
				progress.Set(r.Count, r.Target)
				if !r.Active {
					break loop
				}
			}
		}
		progress.Finish()

		// Stopping the loop saves an unfinished session.
		err = multierr.Append(loopErr, e.app.Stop())
		r, _ := p.Recording()
		fmt.Fprintf(out, "%q now has %d samples (%d new)\n", r.Gesture, r.Count, r.Recorded())
		return err
	})
}

func stopRecording(p *app.Pipeline) error {
	_, err := p.StopRecording(context.Background())
	return err
}

func trainAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, e *env) error {
		onEpoch, finish := epochProgress(e.cfg.Trainer.MaxEpochs)
		e.app.Trainer().OnEpoch = onEpoch

		model, err := e.app.Pipeline().Train(ctx)
		finish()
		if err != nil {
			return err
		}

		out := c.App.Writer
		fmt.Fprintf(out, "trained %s model on %d gestures: %v\n",
			model.Strategy, len(model.Encoder.Classes()), model.Encoder.Classes())
		if run, err := e.app.Store().Runs().Latest(ctx); err == nil {
			fmt.Fprintf(out, "samples %d, epochs %d, loss %.4f, training accuracy %.1f%%\n",
				run.Samples, run.Epochs, run.Loss, run.Accuracy*100)
		}
		fmt.Fprintf(out, "saved %s\n", e.cfg.ModelPath())
		return nil
	})
}

func evaluateAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, e *env) error {
		ev, err := e.app.Pipeline().Evaluate(ctx, c.Float64(flagHoldout), c.Int64(flagSeed))
		if err != nil {
			return err
		}

		out := c.App.Writer
		fmt.Fprintf(out, "train %d, test %d, accuracy %.1f%%\n", ev.TrainSamples, ev.TestSamples, ev.Accuracy*100)
		names := lo.Keys(ev.PerClass)
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-20s %.1f%%\n", name, ev.PerClass[name]*100)
		}
		fmt.Fprintf(out, "confidence: mean %.1f, median %.1f, p10 %.1f, stddev %.1f\n",
			ev.Confidence.Mean, ev.Confidence.Median, ev.Confidence.P10, ev.Confidence.StdDev)
		return nil
	})
}

func runAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, e *env) error {
		p := e.app.Pipeline()
		if !p.Recognizer().Ready() {
			e.logger.Warnw("no trained model, every frame reports Unknown until one is trained",
				"model", e.cfg.ModelPath())
		}
		if err := startSource(ctx, c, e.app); err != nil {
			return err
		}
		e.logger.Infow("publishing results",
			"addr", fmt.Sprintf("%s:%d", e.cfg.Publish.Host, e.cfg.Publish.Port),
			"threshold", e.cfg.Threshold())

		if !c.Bool(flagTray) {
			return e.app.Wait()
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		t := tray.New(p, e.logger.Named("tray"))
		t.OnTrain(func(ctx context.Context) error {
			_, err := p.Train(ctx)
			return err
		})
		t.OnQuit(cancel)
		go func() {
			e.app.Wait()
			t.Quit()
		}()
		t.Run(ctx)
		return e.app.Stop()
	})
}

func serveAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, e *env) error {
		if !c.Bool(flagNoCamera) {
			if err := startSource(ctx, c, e.app); err != nil {
				return err
			}
		}
		srv := server.New(server.Config{
			StaticDir: c.Path(flagStatic),
			Pipeline:  e.app.Pipeline(),
			Store:     e.app.Store(),
			Logger:    e.logger.Named("http"),
		})
		err := srv.Run(ctx, e.cfg.Server.Addr)
		return multierr.Append(err, e.app.Stop())
	})
}

func gesturesAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, e *env) error {
		out := c.App.Writer
		gestures := e.app.Pipeline().Gestures()
		if len(gestures) == 0 {
			fmt.Fprintln(out, "no gestures recorded")
			return nil
		}
		for _, g := range gestures {
			fmt.Fprintf(out, "%-20s %d\n", g.Name, g.Samples)
		}
		return nil
	})
}

func deleteAction(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return errors.New("gesture name is required")
	}
	return withApp(c, func(ctx context.Context, e *env) error {
		if err := e.app.Pipeline().DeleteGesture(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "deleted %q; run `mudra train` to update the model\n", name)
		return nil
	})
}

func samplesAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, e *env) error {
		p := e.app.Pipeline()
		switch {
		case c.Bool(flagReset):
			if err := p.ResetSamplesPerGesture(ctx); err != nil {
				return err
			}
		case c.Args().Present():
			n, err := strconv.Atoi(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid sample count %q", c.Args().First())
			}
			if err := p.SetSamplesPerGesture(ctx, n); err != nil {
				return err
			}
		}
		n, err := p.SamplesPerGesture(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "samples per gesture: %d\n", n)
		return nil
	})
}

func listenAction(c *cli.Context) error {
	return withConfig(c, func(ctx context.Context, e *env) error {
		addr := c.String(flagAddr)
		if addr == "" {
			addr = fmt.Sprintf("%s:%d", e.cfg.Publish.Host, e.cfg.Publish.Port)
		}
		l, err := publish.Listen(addr, e.logger.Named("listen"))
		if err != nil {
			return err
		}
		defer l.Close()

		fmt.Fprintf(c.App.Writer, "listening on %s\n", l.Addr())
		for msg := range l.Messages(ctx) {
			fmt.Fprintf(c.App.Writer, "%s %-20s %6.2f\n",
				msg.ReceivedAt.Format("15:04:05.000"), msg.Label, msg.Confidence)
		}
		return nil
	})
}
