// Command ethosu drives an Ethos-U accelerator from user space: it maps the
// mailbox queues, opens the doorbell and reset collaborators, and exposes
// the control operations as subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-ethosu/pkg/device"
	"github.com/anthropics/purple-ethosu/pkg/platform"
)

// Version information (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	memPath   = flag.String("mem", "/dev/mem", "memory device for the reserved region")
	memBase   = flag.Uint("mem-base", 0x60000000, "physical base of the reserved region")
	memSize   = flag.Uint("mem-size", 16*1024*1024, "size of the reserved region")
	queueSize = flag.Uint("queue-size", 64*1024, "size of each mailbox queue region")
	uioPath   = flag.String("uio", "/dev/uio0", "UIO device for the mailbox doorbell")
	resetPath = flag.String("reset", "/sys/class/remoteproc/remoteproc0/state", "firmware reset attribute")
	optsPath  = flag.String("config", "", "TOML options file")
	verbose   = flag.Bool("v", false, "verbose logging")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		return
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "ping":
		withDevice(func(dev *device.Device) error {
			return dev.Ping(context.Background())
		})
	case "version":
		withDevice(func(dev *device.Device) error {
			if err := dev.VersionRequest(context.Background()); err != nil {
				return err
			}
			// Give the firmware a moment to answer; the response is
			// logged by the dispatch loop.
			time.Sleep(time.Second)
			return nil
		})
	case "capabilities":
		withDevice(printCapabilities)
	case "infer":
		if len(args) < 2 {
			fmt.Println("Usage: ethosu infer <model.tflite> <ifm-file>")
			os.Exit(1)
		}
		withDevice(func(dev *device.Device) error {
			return runInference(dev, args[0], args[1])
		})
	case "build-version":
		fmt.Printf("ethosu version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Ethos-U host CLI")
	fmt.Println()
	fmt.Println("Usage: ethosu [flags] <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ping                          Send a ping to the firmware")
	fmt.Println("  version                       Ask the firmware for its interface version")
	fmt.Println("  capabilities                  Print the hardware capability bundle")
	fmt.Println("  infer <model> <ifm>           Run one inference")
	fmt.Println("  build-version                 Print CLI build information")
	fmt.Println("  help                          Show this help")
}

// withDevice opens the device against the real platform collaborators, runs
// fn, and tears everything down again.
func withDevice(fn func(*device.Device) error) {
	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	opts := device.DefaultOptions()
	if *optsPath != "" {
		loaded, err := device.LoadOptions(*optsPath)
		if err != nil {
			fail(err)
		}
		opts = loaded
	}

	alloc, err := platform.OpenDevMemAllocator(*memPath, uint32(*memBase), uint32(*memSize))
	if err != nil {
		fail(err)
	}
	defer alloc.Close()

	// The queue regions live at the start of the carveout, outbound first,
	// matching the firmware's memory map.
	outbound, err := alloc.Allocate(uint32(*queueSize))
	if err != nil {
		fail(err)
	}
	inbound, err := alloc.Allocate(uint32(*queueSize))
	if err != nil {
		fail(err)
	}

	doorbell, err := platform.OpenUIODoorbell(*uioPath)
	if err != nil {
		fail(err)
	}

	dev, err := device.Open(device.Config{
		Log:         log,
		Options:     opts,
		InboundMem:  inbound.Mem,
		OutboundMem: outbound.Mem,
		Doorbell:    doorbell,
		Reset:       platform.NewSysfsReset(*resetPath),
		Allocator:   alloc,
	})
	if err != nil {
		fail(err)
	}
	defer dev.Close()

	if err := fn(dev); err != nil {
		fail(err)
	}
}

func printCapabilities(dev *device.Device) error {
	caps, err := dev.Capabilities(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("Hardware:")
	fmt.Printf("  Version:        %d.%d (status %d)\n",
		caps.HWID.VersionMajor, caps.HWID.VersionMinor, caps.HWID.VersionStatus)
	fmt.Printf("  Product:        %d\n", caps.HWID.ProductMajor)
	fmt.Printf("  Architecture:   %d.%d.%d\n",
		caps.HWID.ArchMajorRev, caps.HWID.ArchMinorRev, caps.HWID.ArchPatchRev)
	fmt.Println("Configuration:")
	fmt.Printf("  MACs/cc:        %d\n", caps.HWCfg.MacsPerCC)
	fmt.Printf("  Cmd stream:     %d\n", caps.HWCfg.CmdStreamVersion)
	fmt.Printf("  Custom DMA:     %v\n", caps.HWCfg.CustomDMA)
	fmt.Printf("Driver:           %s\n", caps.Driver)

	return nil
}

func runInference(dev *device.Device, modelPath, ifmPath string) error {
	ctx := context.Background()

	model, err := os.ReadFile(modelPath)
	if err != nil {
		return err
	}
	ifmData, err := os.ReadFile(ifmPath)
	if err != nil {
		return err
	}

	netBuf, err := dev.CreateBuffer(ctx, uint32(len(model)))
	if err != nil {
		return err
	}
	defer netBuf.Close()

	copy(netBuf.Data(), model)
	if err := netBuf.SetWindow(ctx, 0, uint32(len(model))); err != nil {
		return err
	}

	net, err := dev.CreateNetworkFromBuffer(ctx, netBuf)
	if err != nil {
		return err
	}
	defer net.Close()

	ifmDims := net.IfmDims()
	ofmDims := net.OfmDims()
	fmt.Printf("Network: %d inputs, %d outputs\n", len(ifmDims), len(ofmDims))

	var ifms []*device.Buffer
	for _, size := range ifmDims {
		buf, err := dev.CreateBuffer(ctx, size)
		if err != nil {
			return err
		}
		defer buf.Close()
		copy(buf.Data(), ifmData)
		if err := buf.SetWindow(ctx, 0, size); err != nil {
			return err
		}
		ifms = append(ifms, buf)
	}

	var ofms []*device.Buffer
	for _, size := range ofmDims {
		buf, err := dev.CreateBuffer(ctx, size)
		if err != nil {
			return err
		}
		defer buf.Close()
		ofms = append(ofms, buf)
	}

	inf, err := dev.CreateInference(ctx, net, ifms, ofms, device.PmuConfig{CycleCounter: true})
	if err != nil {
		return err
	}
	defer inf.Close()

	if err := inf.Wait(ctx, 60*time.Second); err != nil {
		return err
	}

	status, err := inf.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Inference status: %s\n", status)

	if status == device.InferenceOK {
		fmt.Printf("Cycle counter: %d\n", inf.CycleCounter())
		for i, buf := range ofms {
			_, size, err := buf.Window(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("OFM %d: %d bytes\n", i, size)
		}
	}

	return nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
