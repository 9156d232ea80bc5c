package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/disk-provision/pkg/config"
	"git.srvlab.io/whiskey/disk-provision/pkg/provision"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("disk-provision", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	// pflag leaves FlagSet.Usage nil after NewFlagSet, so calling fs.Usage()
	// below would panic without initializing it here
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of disk-provision:\n%s", fs.FlagUsages())
	}

	var (
		device     = fs.String("device", "", "Block device to provision (e.g. /dev/disk/by-id/...)")
		mountPoint = fs.String("mount-point", "", "Absolute path to mount the device at")
		fsType     = fs.String("fs-type", "ext4", "Target filesystem type (ext4, ext3, xfs)")
		options    = fs.String("options", "defaults", "Mount options for the fstab record")
		fstabPath  = fs.String("fstab", config.DefaultFstabPath, "Persistent mount table file")
		configFile = fs.String("config", "", "Optional TOML config file with defaults")
		dryRun     = fs.Bool("dry-run", false, "Print the plan without changing anything")
		force      = fs.Bool("force", false, "Permit destroying a conflicting existing filesystem")
		version    = fs.Bool("version", false, "Print version and exit")
	)

	// Expose klog's -v etc. alongside our flags
	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	fs.AddGoFlagSet(klogFlags)

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		// With ContinueOnError pflag only returns the parse error, so the
		// offending flag and usage must be reported here
		fmt.Fprintf(os.Stderr, "disk-provision: %v\n", err)
		fs.Usage()
		return 1
	}
	defer klog.Flush()

	if *version {
		fmt.Println(provision.Version)
		return 0
	}

	cfg := config.Default()
	if *configFile != "" {
		if err := config.LoadFile(*configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "disk-provision: %v\n", err)
			return 1
		}
	}

	// Explicitly set flags override config file values
	if fs.Changed("device") {
		cfg.Device = *device
	}
	if fs.Changed("mount-point") {
		cfg.MountPoint = *mountPoint
	}
	if fs.Changed("fs-type") {
		cfg.FSType = *fsType
	}
	if fs.Changed("options") {
		cfg.Options = *options
	}
	if fs.Changed("fstab") {
		cfg.FstabPath = *fstabPath
	}
	cfg.DryRun = *dryRun
	cfg.Force = *force

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "disk-provision: %v: %v\n", provision.ErrUsage, err)
		fs.Usage()
		return 1
	}

	// Everything past this point mutates system state, so require root
	// unless we are only printing a plan
	if !cfg.DryRun && os.Geteuid() != 0 {
		fmt.Fprintf(os.Stderr, "disk-provision: %v: must run as root (or use --dry-run)\n", provision.ErrPrivilege)
		return 1
	}

	klog.V(2).Infof("Provisioning %s at %s (fs=%s, fstab=%s, dry-run=%v, force=%v)",
		cfg.Device, cfg.MountPoint, cfg.FSType, cfg.FstabPath, cfg.DryRun, cfg.Force)

	if err := provision.New(cfg).Run(context.Background()); err != nil {
		klog.Errorf("Provisioning failed: %v", err)
		return 1
	}
	return 0
}
