package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nbroyles/undolog/pkg"
	"github.com/spf13/cobra"
)

func (a *app) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new, empty oplog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := pkg.Create(a.config())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", a.v.GetString("name"))
			return l.Close()
		},
	}
}

func (a *app) setCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value [key=value...]",
		Short: "Set keys as a single action. An empty value removes the key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs := make([][2]string, 0, len(args))
			for _, arg := range args {
				kv := strings.SplitN(arg, "=", 2)
				if len(kv) != 2 || kv[0] == "" {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				pairs = append(pairs, [2]string{kv[0], kv[1]})
			}

			return a.withOpLog(func(l *pkg.OpLog) error {
				id, err := l.Do("set "+strings.Join(args, " "), func(txn *pkg.Txn) error {
					for _, kv := range pairs {
						var value []byte
						if kv[1] != "" {
							value = []byte(kv[1])
						}
						if err := txn.SetStore(kv[0], value); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "committed %d\n", id)
				return nil
			})
		},
	}
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get key",
		Short: "Print the current value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withOpLog(func(l *pkg.OpLog) error {
				value, err := l.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatValue(value))
				return nil
			})
		},
	}
}

func (a *app) undoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Undo the most recent action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withOpLog(func(l *pkg.OpLog) error {
				id, err := l.Undo()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "committed %d\n", id)
				return nil
			})
		},
	}
}

func (a *app) redoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redo [index]",
		Short: "Redo an undone action, by its index in redos",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("%w: %q", pkg.ErrInvalidRedoIndex, args[0])
				}
				index = n
			}

			return a.withOpLog(func(l *pkg.OpLog) error {
				id, err := l.Redo(index)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "committed %d\n", id)
				return nil
			})
		},
	}
}

func (a *app) redosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redos",
		Short: "List undone actions, most recently undone first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withOpLog(func(l *pkg.OpLog) error {
				for i, c := range l.Redos() {
					entry, err := l.Action(c.OriginalDoID)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d\t%s\t%s\n",
						i, c.OriginalDoID, entry.Timestamp.Format(time.RFC3339), entry.Label)
				}
				return nil
			})
		},
	}
}

func (a *app) changesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "changes",
		Short: "List the actions in the current history, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withOpLog(func(l *pkg.OpLog) error {
				it, err := l.Changes()
				if err != nil {
					return err
				}
				for it.HasNext() {
					entry, err := it.Next()
					if err != nil {
						return err
					}
					printEntry(cmd.OutOrStdout(), entry)
				}
				return nil
			})
		},
	}
}

func (a *app) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List every record in the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withOpLog(func(l *pkg.OpLog) error {
				it, err := l.History()
				if err != nil {
					return err
				}
				for it.HasNext() {
					rec, err := it.Next()
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), rec.String())
				}
				return nil
			})
		},
	}
}

func (a *app) compactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the log to hold only the current history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withOpLog(func(l *pkg.OpLog) error {
				return l.Compact()
			})
		},
	}
}

func printEntry(w io.Writer, entry *pkg.Entry) {
	fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", entry.Position, entry.DoID, entry.Timestamp.Format(time.RFC3339), entry.Label)
	for _, c := range entry.Changes {
		fmt.Fprintf(w, "\t%s: %s -> %s\n", c.Key, formatValue(c.Old), formatValue(c.New))
	}
	for _, k := range entry.State.Keys() {
		fmt.Fprintf(w, "\t%s = %v\n", k, entry.State[k])
	}
}

func formatValue(v []byte) string {
	if v == nil {
		return "(absent)"
	}
	return strconv.Quote(string(v))
}
