package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"collabsync/internal/app/ot"
)

type rebaseResult struct {
	Ours   []string
	Theirs []string
	Text   string
}

// rebase merges two patches written concurrently against base. Theirs is taken as applied
// first; ours is rebased over it, and the opposite order must produce the same text.
func rebase(base string, ours, theirs []string) (rebaseResult, error) {
	oursOps, err := ot.DecodeOps(ours)
	if err != nil {
		return rebaseResult{}, fmt.Errorf("ours: %w", err)
	}
	theirsOps, err := ot.DecodeOps(theirs)
	if err != nil {
		return rebaseResult{}, fmt.Errorf("theirs: %w", err)
	}

	doc := ot.NewDocument(base)
	if _, _, err := doc.Submit("theirs", 0, theirsOps); err != nil {
		return rebaseResult{}, fmt.Errorf("theirs: %w", err)
	}
	oursRebased, _, err := doc.Submit("ours", 0, oursOps)
	if err != nil {
		return rebaseResult{}, fmt.Errorf("ours: %w", err)
	}

	_, theirsRebased := ot.TransformPatch(oursOps, theirsOps)
	other, err := ot.Apply(base, oursOps)
	if err == nil {
		other, err = ot.Apply(other, theirsRebased)
	}
	if err != nil {
		return rebaseResult{}, fmt.Errorf("theirs over ours: %w", err)
	}
	if other != doc.Value() {
		return rebaseResult{}, fmt.Errorf("patches diverge: %q vs %q", doc.Value(), other)
	}

	return rebaseResult{
		Ours:   ot.EncodeOps(oursRebased),
		Theirs: ot.EncodeOps(theirsRebased),
		Text:   doc.Value(),
	}, nil
}

func newTextCmd() *cobra.Command {
	var (
		base         string
		ours, theirs []string
	)

	cmd := &cobra.Command{
		Use:   "text --base <text> --ours <op> --theirs <op>",
		Short: "Rebase two concurrent text patches and print the merged text",
		Long: "Ops are written as i,<pos>,<value> to insert or d,<pos>,<len> to delete; positions count runes.\n" +
			"Repeat --ours and --theirs for patches of more than one op.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := rebase(base, ours, theirs)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "ours:   %s\n", strings.Join(res.Ours, " "))
			_, _ = fmt.Fprintf(w, "theirs: %s\n", strings.Join(res.Theirs, " "))
			_, _ = fmt.Fprintf(w, "text:   %q\n", res.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "text both patches were written against")
	cmd.Flags().StringArrayVar(&ours, "ours", nil, "op of the local patch")
	cmd.Flags().StringArrayVar(&theirs, "theirs", nil, "op of the concurrent patch")
	return cmd
}
