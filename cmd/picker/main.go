// Command picker runs the pick pipeline against a remote machine, either a
// full work order or a single named step of one pick, for debugging motions
// in isolation.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/utils/rpc"

	"binpick"
)

func main() {
	var (
		armName   = flag.String("arm", "arm", "arm component name")
		grip      = flag.String("gripper", "gripper", "gripper component name")
		orderFile = flag.String("order", "order.json", "path to the order JSON file")
		binName   = flag.String("bin", "", "bin to pick from (with -item, runs a single pick)")
		item      = flag.String("item", "", "item to pick (with -bin, runs a single pick)")
		stepName  = flag.String("step", "", "resume a single pick from this step")
		manual    = flag.Bool("manual", false, "pause for confirmation before every step")
		ikWorkers = flag.Int("ik-workers", 0, "IK solver pool size (default: one per CPU)")
		dropX     = flag.Float64("drop-x", 600, "drop zone X in mm")
		dropY     = flag.Float64("drop-y", -400, "drop zone Y in mm")
		dropZ     = flag.Float64("drop-z", 200, "drop zone Z in mm")
	)
	flag.Parse()

	logger := logging.NewLogger("picker-cli")

	address := os.Getenv("VIAM_ROBOT_ADDRESS")
	entityID := os.Getenv("VIAM_ENTITY_ID")
	apiKey := os.Getenv("VIAM_API_KEY")
	if address == "" || entityID == "" || apiKey == "" {
		logger.Fatal("VIAM_ROBOT_ADDRESS, VIAM_ENTITY_ID, and VIAM_API_KEY must be set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	machine, err := client.New(
		ctx,
		address,
		logger,
		client.WithDialOptions(rpc.WithEntityCredentials(
			entityID,
			rpc.Credentials{
				Type:    rpc.CredentialsTypeAPIKey,
				Payload: apiKey,
			})),
	)
	if err != nil {
		logger.Fatal(err)
	}
	defer machine.Close(context.Background())
	logger.Info("connected to machine")

	conf := &binpick.Config{
		Arm:        *armName,
		Gripper:    *grip,
		OrderFile:  *orderFile,
		IKWorkers:  *ikWorkers,
		DropZoneMm: []float64{*dropX, *dropY, *dropZ},
	}
	if _, _, err := conf.Validate(""); err != nil {
		logger.Fatal(err)
	}

	var gate func(binpick.Step) error
	if *manual {
		gate = confirmStep(logger)
	}

	pipeline, _, orders, err := binpick.BuildPipeline(ctx, machine, conf, gate, logger)
	if err != nil {
		logger.Fatal(err)
	}

	if *binName != "" || *item != "" {
		if *binName == "" || *item == "" {
			logger.Fatal("-bin and -item must be given together")
		}
		startStep := binpick.StepOpenGripper
		if *stepName != "" {
			startStep, err = binpick.StepByName(*stepName)
			if err != nil {
				logger.Fatal(err)
			}
		}
		order := binpick.WorkOrder{Bin: *binName, Item: *item}
		if err := pipeline.PickProduct(ctx, order, startStep); err != nil {
			logger.Fatal(err)
		}
		logger.Infof("picked %q from %s", *item, *binName)
		return
	}

	if *stepName != "" {
		logger.Fatal("-step requires -bin and -item")
	}

	logger.Infof("running full order: %d picks", len(orders))
	if err := pipeline.RunOrder(ctx, orders); err != nil {
		logger.Fatal(err)
	}
}

// confirmStep prompts on stdin before each pipeline step.
func confirmStep(logger logging.Logger) func(binpick.Step) error {
	reader := bufio.NewReader(os.Stdin)
	return func(step binpick.Step) error {
		fmt.Printf("next step: %s. proceed? (yes/no): ", step)
		response, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" && response != "y" {
			return fmt.Errorf("step %s declined", step)
		}
		return nil
	}
}
