package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"medtracker/dbtypes"

	"cloud.google.com/go/civil"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var cmdRegimens = &cobra.Command{
	Use: "regimens [command]",
}

var regimensListAll bool

var cmdRegimensList = &cobra.Command{
	Use: "list",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		var (
			regimens []*dbtypes.Regimen
			err      error
		)
		if regimensListAll {
			regimens, err = e.tracker.Catalog().ListRegimens(ctx, userID)
		} else {
			regimens, err = e.tracker.Catalog().ListActiveRegimens(ctx, userID, e.now().Date)
		}
		if err != nil {
			return fmt.Errorf("while listing regimens: %w", err)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tDOSE\tTIMES\tDAYS\tSTOCK\tSTATE")
		for _, r := range regimens {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%s\t%s\n", r.ID, r.Name, r.Dose, joinTimes(r.Times), r.Days, stock(r), state(r))
		}
		return tw.Flush()
	}),
}

func joinTimes(times []dbtypes.ClockTime) string {
	var parts []string
	for _, t := range times {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ",")
}

func stock(r *dbtypes.Regimen) string {
	inv := r.Inventory
	if inv == nil {
		return "-"
	}
	if inv.HasTotal() {
		return fmt.Sprintf("%d/%d", inv.Remaining, inv.Total)
	}
	return fmt.Sprintf("%d", inv.Remaining)
}

func state(r *dbtypes.Regimen) string {
	if r.Deactivated {
		return "deactivated"
	}
	return "active"
}

var regimensCreateFile string

// cmdRegimensCreate reads a regimen definition in its JSON form.
var cmdRegimensCreate = &cobra.Command{
	Use: "create",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		var in io.Reader = cmd.InOrStdin()
		if regimensCreateFile != "" && regimensCreateFile != "-" {
			f, err := os.Open(regimensCreateFile)
			if err != nil {
				return fmt.Errorf("while opening regimen definition: %w", err)
			}
			defer f.Close()
			in = f
		}

		def := &dbtypes.Regimen{}
		dec := json.NewDecoder(in)
		dec.DisallowUnknownFields()
		if err := dec.Decode(def); err != nil {
			return fmt.Errorf("while decoding regimen definition: %w", err)
		}
		def.UserID = userID

		created, err := e.tracker.Catalog().CreateRegimen(ctx, def)
		if err != nil {
			return fmt.Errorf("while creating regimen: %w", err)
		}
		glog.Infof("Created regimen %s (%s) for %s", created.ID, created.Name, userID)
		fmt.Fprintln(cmd.OutOrStdout(), created.ID)
		return nil
	}),
}

var cmdRegimensDeactivate = &cobra.Command{
	Use:  "deactivate REGIMEN-ID",
	Args: cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		if err := e.tracker.Catalog().DeactivateRegimen(ctx, userID, args[0]); err != nil {
			return fmt.Errorf("while deactivating regimen: %w", err)
		}
		glog.Infof("Deactivated regimen %s", args[0])
		return nil
	}),
}

var regimensAdjustDelta int64

var cmdRegimensAdjust = &cobra.Command{
	Use:  "adjust REGIMEN-ID",
	Args: cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		r, err := e.tracker.Catalog().AdjustInventory(ctx, userID, args[0], regimensAdjustDelta)
		if err != nil {
			return fmt.Errorf("while adjusting inventory: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", r.Name, stock(r))
		return nil
	}),
}

var (
	regimensRefillQuantity  int64
	regimensRefillExpiresOn string
)

var cmdRegimensRefill = &cobra.Command{
	Use:  "refill REGIMEN-ID",
	Args: cobra.ExactArgs(1),
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		var expiresOn *civil.Date
		if regimensRefillExpiresOn != "" {
			d, err := civil.ParseDate(regimensRefillExpiresOn)
			if err != nil {
				return fmt.Errorf("while parsing --expires-on: %w", err)
			}
			expiresOn = &d
		}

		r, err := e.tracker.Catalog().RecordRefill(ctx, userID, args[0], regimensRefillQuantity, expiresOn)
		if err != nil {
			return fmt.Errorf("while recording refill: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", r.Name, stock(r))
		return nil
	}),
}

func init() {
	cmdRegimensList.Flags().BoolVar(&regimensListAll, "all", false, "Include ended and deactivated regimens.")
	cmdRegimensCreate.Flags().StringVar(&regimensCreateFile, "file", "-", "JSON regimen definition; - reads stdin.")
	cmdRegimensAdjust.Flags().Int64Var(&regimensAdjustDelta, "delta", 0, "Units to add (positive) or remove (negative).")
	cmdRegimensRefill.Flags().Int64Var(&regimensRefillQuantity, "quantity", 0, "Units in the new pack.")
	cmdRegimensRefill.Flags().StringVar(&regimensRefillExpiresOn, "expires-on", "", "Expiry date of the new pack, YYYY-MM-DD.")
}
