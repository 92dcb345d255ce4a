package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/driveteam/scoutd/internal/entity"
	"github.com/driveteam/scoutd/internal/scouting"
	"github.com/driveteam/scoutd/internal/ui"
)

const (
	colorBold  = "\033[1m"
	colorDim   = "\033[2m"
	colorReset = "\033[0m"
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List the declared entity stores and their schemas",
	RunE: func(cmd *cobra.Command, args []string) error {
		scouting.Register()

		useColor := ui.ShouldUseColor()
		for _, s := range entity.Registered() {
			name := s.Name()
			tags := storeTags(s)
			if useColor {
				fmt.Printf("%s%s%s%s\n", colorBold, name, colorReset, tags)
			} else {
				fmt.Printf("%s%s\n", name, tags)
			}

			schema := s.Schema()
			keys := make([]string, 0, len(schema))
			for k := range schema {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				line := fmt.Sprintf("  %-12s %s", k, schema[k])
				if useColor {
					fmt.Printf("%s%s%s\n", colorDim, line, colorReset)
				} else {
					fmt.Println(line)
				}
			}
		}
		return nil
	},
}

func storeTags(s *entity.Struct) string {
	var tags []string
	if s.Sample() {
		tags = append(tags, "sample")
	}
	if len(tags) == 0 {
		return ""
	}
	return " (" + strings.Join(tags, ", ") + ")"
}
