package main

import (
	"fmt"
	"io"
	"io/ioutil"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"moria.us/msd2mid/midi"
	"moria.us/msd2mid/msd"
)

func dumpFile(name string, style msd.LoopStyle, notes bool) error {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		return err
	}
	// An .msd argument is converted in memory first.
	if len(data) >= 4 && string(data[0:4]) == "WMSD" {
		data, err = msd.Convert(data, style)
		if err != nil {
			return err
		}
	}
	f, err := midi.Parse(data)
	if err != nil {
		return err
	}
	fmt.Printf("head: %+v\n", &f.Head)
	for i, trk := range f.Tracks {
		fmt.Println("Track:", i)
		evs := trk.Events()
		for {
			e, err := evs.Next()
			if err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
			if e.IsMeta() {
				m, err := e.ParseMeta()
				if err != nil {
					if err == midi.ErrUnknownMetaEvent {
						fmt.Print("  ", e.String(), "\n")
						continue
					}
					return err
				}
				fmt.Print("  ", m.String(), "\n")
			} else {
				fmt.Print("  ", e.String(), "\n")
			}
		}
		if notes {
			ns, err := trk.ParseNotes()
			if err != nil {
				return err
			}
			for _, n := range ns {
				fmt.Print("  ", midi.NoteName(n.Value), "\n")
			}
		}
	}
	return nil
}

func dumpCmd() *cobra.Command {
	var fLoop string
	var fNotes bool
	c := &cobra.Command{
		Use:   "dump <file>...",
		Short: "Print the events of a .mid or .msd file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			style, err := parseLoopStyle(fLoop)
			if err != nil {
				return err
			}
			for _, arg := range args {
				fmt.Println(arg)
				if err := dumpFile(arg, style, fNotes); err != nil {
					logrus.Errorf("file %q: %v", arg, err)
				}
			}
			return nil
		},
	}
	c.Flags().StringVar(&fLoop, "loop", "meta", "loop marker style for .msd inputs")
	c.Flags().BoolVar(&fNotes, "notes", false, "also print grouped notes")
	return c
}
