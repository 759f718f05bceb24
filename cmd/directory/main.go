package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"school-pickup/auth"
	"school-pickup/domain"
	"school-pickup/repositories"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "", "Path to the gateway badger DB")
	kind := flag.String("kind", "all", "participants, children, locations or all")
	seed := flag.Bool("seed", false, "Store the default school directory before listing")
	passcodeFor := flag.String("passcode-for", "", "Participant id whose login passcode is set from -passcode")
	passcode := flag.String("passcode", "", "Login passcode, 6 to 72 characters")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("missing -db")
	}
	writes := *seed || *passcodeFor != ""
	db, err := openDB(*dbPath, !writes)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	repository := repositories.NewDirectoryRepository(db, logs.GetLoggerFromString("ERROR"))
	if *seed {
		if err = repository.Seed(); err != nil {
			log.Fatal(err)
		}
	}
	if *passcodeFor != "" {
		if err = setPasscode(repository, *passcodeFor, *passcode); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Passcode set for %s\n", *passcodeFor)
	}
	if err = render(os.Stdout, repository, *kind); err != nil {
		log.Fatal(err)
	}
}

func render(out io.Writer, repository repositories.IDirectoryRepository, kind string) error {
	kinds := []string{kind}
	if kind == "all" {
		kinds = []string{"participants", "children", "locations"}
	}
	for _, k := range kinds {
		var (
			header []string
			rows   [][]string
		)
		switch k {
		case "participants":
			participants, err := repository.ListParticipants()
			if err != nil {
				return err
			}
			header = []string{"Id", "Display Name", "Role", "Status"}
			for _, p := range participants {
				rows = append(rows, []string{p.ID, p.DisplayName, string(p.Role), string(p.Status)})
			}
		case "children":
			children, err := repository.ListChildren()
			if err != nil {
				return err
			}
			header = []string{"Id", "Name", "Grade"}
			for _, c := range children {
				rows = append(rows, []string{c.ID, c.FirstName + " " + c.LastName, c.Grade})
			}
		case "locations":
			locations, err := repository.ListLocations()
			if err != nil {
				return err
			}
			header = []string{"Id", "Name", "Description"}
			rows = locationRows(locations)
		default:
			return fmt.Errorf("unknown kind %q", k)
		}
		_, _ = fmt.Fprintf(out, "\n%s (%d)\n", strings.ToUpper(k), len(rows))
		table(out, header, rows)
	}
	return nil
}

func setPasscode(repository repositories.IDirectoryRepository, participantID, passcode string) error {
	if err := auth.ValidatePasscode(passcode); err != nil {
		return fmt.Errorf("invalid passcode: %w", err)
	}
	hash, err := auth.HashPasscode(passcode)
	if err != nil {
		return err
	}
	return repository.SetPasscodeHash(participantID, hash)
}

func locationRows(locations []domain.PickupLocation) [][]string {
	rows := make([][]string, 0, len(locations))
	for _, l := range locations {
		rows = append(rows, []string{l.ID, l.Name, l.Description})
	}
	return rows
}

func table(out io.Writer, header []string, rows [][]string) {
	t := tablewriter.NewWriter(out)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(true)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("")
	t.SetRowSeparator("")
	t.SetHeaderLine(false)
	t.SetBorder(false)
	t.SetTablePadding("\t")
	t.AppendBulk(rows)
	t.Render()
}

func openDB(path string, readOnly bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if readOnly {
		// The gateway may be running and holding the lock.
		opts = opts.WithReadOnly(true).WithBypassLockGuard(true)
	}
	return badger.Open(opts)
}
