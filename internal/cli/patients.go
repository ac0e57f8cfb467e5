package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/patientdb/internal/patient"
	"github.com/roach88/patientdb/internal/store"
)

// fieldFlags holds the patient field flags shared by insert and update.
type fieldFlags struct {
	Name    string
	DOB     string
	Email   string
	Phone   string
	Address string
}

func (f *fieldFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Name, "name", "", "full name")
	cmd.Flags().StringVar(&f.DOB, "dob", "", "date of birth (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.Email, "email", "", "email address")
	cmd.Flags().StringVar(&f.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&f.Address, "address", "", "postal address")
}

func (f *fieldFlags) input() patient.Input {
	return patient.Input{Name: f.Name, DOB: f.DOB, Email: f.Email, Phone: f.Phone, Address: f.Address}
}

// partial sets only the fields whose flags were given, so `--email ""`
// clears the email while an absent --email leaves it alone.
func (f *fieldFlags) partial(cmd *cobra.Command) patient.Partial {
	var p patient.Partial
	set := func(flag string, value string, dst **string) {
		if cmd.Flags().Changed(flag) {
			*dst = patient.String(value)
		}
	}
	set("name", f.Name, &p.Name)
	set("dob", f.DOB, &p.DOB)
	set("email", f.Email, &p.Email)
	set("phone", f.Phone, &p.Phone)
	set("address", f.Address, &p.Address)
	return p
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	fields := &fieldFlags{}

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert a patient",
		Long: `Insert a patient record and announce it to the other replicas.

Example:
  patientdb insert --name "Alice Smith" --dob 1990-01-01 --email alice@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rootOpts.openReplica(cmd.Context())
			if err != nil {
				return err
			}
			defer rootOpts.closeReplica(r)

			out := rootOpts.formatter(cmd)
			rec, err := r.Gateway().Insert(cmd.Context(), fields.input())
			if err != nil {
				return out.Fail("insert failed", err)
			}
			return writeRecord(out, rec)
		},
	}
	fields.register(cmd)

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	fields := &fieldFlags{}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update fields of a patient",
		Long: `Update the given fields of a patient record. Fields without a flag are
left unchanged; an empty value clears an optional field.

Example:
  patientdb update 0192f4c8-... --phone 555-0100 --address ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rootOpts.openReplica(cmd.Context())
			if err != nil {
				return err
			}
			defer rootOpts.closeReplica(r)

			out := rootOpts.formatter(cmd)
			rec, err := r.Gateway().Update(cmd.Context(), args[0], fields.partial(cmd))
			if err != nil {
				return out.Fail("update failed", err)
			}
			return writeRecord(out, rec)
		},
	}
	fields.register(cmd)

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a patient",
		Long: `Delete a patient record. Deleting an absent id succeeds and is still
announced, so replicas holding a stale copy drop it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rootOpts.openReplica(cmd.Context())
			if err != nil {
				return err
			}
			defer rootOpts.closeReplica(r)

			out := rootOpts.formatter(cmd)
			if err := r.Gateway().Delete(cmd.Context(), args[0]); err != nil {
				return out.Fail("delete failed", err)
			}
			if out.Format == "json" {
				return out.Success(map[string]string{"id": args[0]})
			}
			return out.Success("deleted " + args[0])
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rootOpts.openReplica(cmd.Context())
			if err != nil {
				return err
			}
			defer rootOpts.closeReplica(r)

			out := rootOpts.formatter(cmd)
			rec, found, err := r.Gateway().GetByID(cmd.Context(), args[0])
			if err != nil {
				return out.Fail("get failed", err)
			}
			if !found {
				return out.Fail("get failed", patient.NewNotFoundError(args[0]))
			}
			return writeRecord(out, rec)
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all patients, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rootOpts.openReplica(cmd.Context())
			if err != nil {
				return err
			}
			defer rootOpts.closeReplica(r)

			out := rootOpts.formatter(cmd)
			recs, err := r.Gateway().GetAll(cmd.Context())
			if err != nil {
				return out.Fail("list failed", err)
			}
			if out.Format == "json" {
				return out.Success(recs)
			}
			if len(recs) == 0 {
				return out.Success("No patients.")
			}
			return writeRecordTable(out.Writer, recs)
		},
	}
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql> [params...]",
		Short: "Run a read-only SQL query",
		Long: `Run an ad-hoc parameterized SQL query against the local store.
Statements that would modify the database are rejected.

Example:
  patientdb query "SELECT id, name FROM patients WHERE dob < ?" 1980-01-01`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rootOpts.openReplica(cmd.Context())
			if err != nil {
				return err
			}
			defer rootOpts.closeReplica(r)

			params := make([]any, 0, len(args)-1)
			for _, p := range args[1:] {
				params = append(params, p)
			}

			out := rootOpts.formatter(cmd)
			res, err := r.Gateway().Query(cmd.Context(), args[0], params...)
			if err != nil {
				return out.Fail("query failed", err)
			}
			if out.Format == "json" {
				return out.Success(res)
			}
			return writeResultTable(out.Writer, res)
		},
	}
}

func writeRecord(out *OutputFormatter, rec patient.Patient) error {
	if out.Format == "json" {
		return out.Success(rec)
	}

	w := tabwriter.NewWriter(out.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id:\t%s\n", rec.ID)
	fmt.Fprintf(w, "name:\t%s\n", rec.Name)
	fmt.Fprintf(w, "dob:\t%s\n", rec.DOB)
	for _, opt := range []struct{ label, value string }{
		{"email", rec.Email}, {"phone", rec.Phone}, {"address", rec.Address},
	} {
		if opt.value != "" {
			fmt.Fprintf(w, "%s:\t%s\n", opt.label, opt.value)
		}
	}
	fmt.Fprintf(w, "created_at:\t%s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "updated_at:\t%s\n", rec.UpdatedAt.Format(time.RFC3339))
	return w.Flush()
}

func writeRecordTable(dst io.Writer, recs []patient.Patient) error {
	w := tabwriter.NewWriter(dst, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDOB\tEMAIL\tPHONE\tUPDATED")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Name, rec.DOB, rec.Email, rec.Phone, rec.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func writeResultTable(dst io.Writer, res *store.Result) error {
	w := tabwriter.NewWriter(dst, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(res.Columns, "\t")))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			if v := row[col]; v != nil {
				cells[i] = fmt.Sprint(v)
			} else {
				cells[i] = "NULL"
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	fmt.Fprintf(w, "(%d rows)\n", res.RowCount)
	return w.Flush()
}
