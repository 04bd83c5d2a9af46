// Command genext2fs builds an ext2 filesystem image from a staging
// directory, a device-table specification, or both.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ext2 "github.com/go-ext2/genext2fs"
)

var log = logrus.New()

var (
	flagBlocks         string
	flagInodes         uint64
	flagBytesPerInode  string
	flagReservedBlocks uint64
	flagReservedFrac   float64
	flagBlockSize      uint32
	flagRootDirectory  string
	flagDeviceTable    string
	flagVolumeLabel    string
	flagSquashUIDs     bool
	flagSquashPerms    bool
	flagHoles          bool
	flagFaketime       uint32
	flagBigEndian      bool
	flagBlockMapPaths  []string
	flagVerbose        bool
	flagQuiet          bool
)

var rootCmd = &cobra.Command{
	Use:   "genext2fs <image>",
	Short: "Build an ext2 filesystem image without root privileges",
	Long: `genext2fs builds a byte-exact second-extended filesystem image from an
ordinary user-owned staging directory and/or a device-table specification,
without requiring root privileges or a kernel loopback mount.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flagBlocks, "blocks", "b", "16M", "image size, as a block count or byte size (64K, 500M, 2G, ...)")
	f.Uint64VarP(&flagInodes, "number-of-inodes", "N", 0, "number of inodes (0 = derive from --bytes-per-inode)")
	f.StringVarP(&flagBytesPerInode, "bytes-per-inode", "i", "16K", "bytes per inode ratio, used when -N is 0")
	f.Uint64VarP(&flagReservedBlocks, "reserved-blocks", "r", 0, "blocks reserved for lost+found (0 = derive from --reserved-percentage)")
	f.Float64VarP(&flagReservedFrac, "reserved-percentage", "m", 5, "percentage of blocks reserved when -r is 0")
	f.Uint32Var(&flagBlockSize, "block-size", 1024, "filesystem block size: 1024, 2048, or 4096")
	f.StringVarP(&flagRootDirectory, "root-directory", "d", "", "staging directory tree to ingest")
	f.StringVarP(&flagDeviceTable, "device-table", "D", "", "device-table file to ingest")
	f.StringVarP(&flagVolumeLabel, "volume-label", "L", "", "volume label (<= 16 bytes)")
	f.BoolVarP(&flagSquashUIDs, "squash-uids", "U", false, "rewrite every ingested uid/gid to 0")
	f.BoolVarP(&flagSquashPerms, "squash-perms", "P", false, "rewrite every ingested group/other permission bit to 0")
	f.BoolVarP(&flagHoles, "holes", "z", false, "allow sparse (hole) data blocks for all-zero content")
	f.Uint32VarP(&flagFaketime, "faketime", "f", 0, "fixed mtime/ctime for every inode (0 = source mtimes, else current time)")
	f.BoolVar(&flagBigEndian, "big-endian", false, "write a big-endian image")
	f.StringArrayVarP(&flagBlockMapPaths, "block-map", "g", nil, "write a block-map diagnostic dump for this in-image path (repeatable) to <path-with-slashes-as-underscores>.blk")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "log build progress")
	f.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress all but error output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	switch {
	case flagQuiet:
		log.SetLevel(logrus.ErrorLevel)
	case flagVerbose:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	opts, err := buildOptions()
	if err != nil {
		return err
	}

	imagePath, cleanup, err := openOutput(args[0])
	if err != nil {
		return err
	}

	img, err := ext2.NewImage(imagePath, opts...)
	if err != nil {
		cleanup(false)
		return fmt.Errorf("initializing image: %w", err)
	}
	log.Debugf("initialized image at %s", imagePath)

	if flagRootDirectory != "" {
		log.Infof("ingesting directory tree %s", flagRootDirectory)
		if err := ingestDirectory(img, flagRootDirectory); err != nil {
			img.Close()
			cleanup(false)
			return fmt.Errorf("ingesting %s: %w", flagRootDirectory, err)
		}
	}

	if flagDeviceTable != "" {
		log.Infof("applying device table %s", flagDeviceTable)
		if err := applyDeviceTable(img, flagDeviceTable); err != nil {
			img.Close()
			cleanup(false)
			return fmt.Errorf("applying device table %s: %w", flagDeviceTable, err)
		}
	}

	for _, p := range flagBlockMapPaths {
		if err := dumpBlockMap(img, p); err != nil {
			color.Yellow("warning: block-map dump for %s failed: %s", p, err)
		}
	}

	if err := img.Finalize(); err != nil {
		img.Close()
		cleanup(false)
		return fmt.Errorf("finalizing image: %w", err)
	}
	if err := img.Close(); err != nil {
		cleanup(false)
		return err
	}

	return cleanup(true)
}

func buildOptions() ([]ext2.Option, error) {
	opts := []ext2.Option{
		ext2.WithBlockSize(flagBlockSize),
		ext2.WithBlocks(flagBlocks),
		ext2.WithBytesPerInode(flagBytesPerInode),
		ext2.WithHoles(flagHoles),
		ext2.WithSquashUIDs(flagSquashUIDs),
		ext2.WithSquashPerms(flagSquashPerms),
		ext2.WithTimestamp(flagFaketime),
		ext2.WithByteOrder(flagBigEndian),
	}
	if flagInodes > 0 {
		opts = append(opts, ext2.WithInodes(flagInodes))
	}
	if flagReservedBlocks > 0 {
		opts = append(opts, ext2.WithReservedBlocks(flagReservedBlocks))
	} else {
		opts = append(opts, ext2.WithReservedFraction(flagReservedFrac/100))
	}
	if flagVolumeLabel != "" {
		opts = append(opts, ext2.WithLabel(flagVolumeLabel))
	}
	return opts, nil
}
