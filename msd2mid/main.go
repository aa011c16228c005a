// Command msd2mid converts MSD music containers into standard MIDI files.
package main

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"moria.us/msd2mid/msd"
)

var loopStyles = map[string]msd.LoopStyle{
	"meta":  msd.LoopMarkerMeta,
	"cc111": msd.LoopMarkerController,
}

func parseLoopStyle(name string) (msd.LoopStyle, error) {
	s, ok := loopStyles[name]
	if !ok {
		return 0, fmt.Errorf("unknown loop style %q (use meta or cc111)", name)
	}
	return s, nil
}

// listInputs expands arguments into .msd files. A directory argument means
// every .msd file directly inside it.
func listInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		st, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			files = append(files, arg)
			continue
		}
		fs, err := filepath.Glob(filepath.Join(arg, "*.msd"))
		if err != nil {
			return nil, err
		}
		if len(fs) == 0 {
			logrus.Warnf("no .msd files in %q", arg)
		}
		files = append(files, fs...)
	}
	return files, nil
}

func convertFile(name string, style msd.LoopStyle, stdout bool) error {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		return err
	}
	out, err := msd.Convert(data, style)
	if err != nil {
		return err
	}
	if stdout {
		_, err = os.Stdout.Write(out)
		return err
	}
	outname := strings.TrimSuffix(name, filepath.Ext(name)) + ".mid"
	if err := ioutil.WriteFile(outname, out, 0666); err != nil {
		return err
	}
	logrus.Infof("%s -> %s (%d bytes)", name, outname, len(out))
	return nil
}

func convertCmd() *cobra.Command {
	var fLoop string
	var fStdout bool
	c := &cobra.Command{
		Use:   "convert <file|dir>...",
		Short: "Convert .msd files to .mid",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			style, err := parseLoopStyle(fLoop)
			if err != nil {
				return err
			}
			files, err := listInputs(args)
			if err != nil {
				return err
			}
			if fStdout && len(files) != 1 {
				return errors.New("--stdout needs exactly one input file")
			}
			var failed int
			for _, name := range files {
				if err := convertFile(name, style, fStdout); err != nil {
					logrus.Errorf("file %q: %v", name, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(files))
			}
			return nil
		},
	}
	c.Flags().StringVar(&fLoop, "loop", "meta",
		"loop marker style: meta (loopStart/loopEnd markers) or cc111 (controller 111)")
	c.Flags().BoolVar(&fStdout, "stdout", false, "write the converted file to standard output")
	return c
}

func main() {
	root := &cobra.Command{
		Use:           "msd2mid",
		Short:         "MSD to standard MIDI converter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(convertCmd())
	root.AddCommand(dumpCmd())
	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
