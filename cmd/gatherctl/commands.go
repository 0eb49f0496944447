package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querycache/gathering"
)

const dateLayout = "2006-01-02"

func (c *cli) gatheringCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "gathering", Short: "Read and edit a gathering"}

	get := &cobra.Command{
		Use:  "get ID",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			g, err := a.queries.Gathering(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.print(g)
		},
	}

	status := &cobra.Command{
		Use:  "status ID",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			s, err := a.queries.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.print(s)
		},
	}

	var (
		title, desc, image string
		mainLoc, subLoc    string
		start, end         string
		total              int
		tags               []string
	)
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Update the set fields of a gathering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			f := cmd.Flags()
			var u gathering.GatheringUpdate
			if f.Changed("title") {
				u.Title = &title
			}
			if f.Changed("description") {
				u.Description = &desc
			}
			if f.Changed("image") {
				u.ImageURL = &image
			}
			if f.Changed("main-location") {
				u.MainLocation = &mainLoc
			}
			if f.Changed("sub-location") {
				u.SubLocation = &subLoc
			}
			if f.Changed("total-count") {
				u.TotalCount = &total
			}
			if f.Changed("tags") {
				u.Tags = tags
			}
			if u.StartDate, err = dateFlag(f.Changed("start"), start); err != nil {
				return err
			}
			if u.EndDate, err = dateFlag(f.Changed("end"), end); err != nil {
				return err
			}
			if u.Empty() {
				return errors.New("nothing to update")
			}

			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			g, err := a.muts.UpdateGathering(cmd.Context(), id, u)
			if err != nil {
				return err
			}
			return c.print(g)
		},
	}
	uf := update.Flags()
	uf.StringVar(&title, "title", "", "title")
	uf.StringVar(&desc, "description", "", "description")
	uf.StringVar(&image, "image", "", "image URL")
	uf.StringVar(&mainLoc, "main-location", "", "main location")
	uf.StringVar(&subLoc, "sub-location", "", "sub location")
	uf.StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	uf.StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	uf.IntVar(&total, "total-count", 0, "capacity")
	uf.StringSliceVar(&tags, "tags", nil, "tags")

	del := &cobra.Command{
		Use:  "delete ID",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			return a.muts.DeleteGathering(cmd.Context(), id)
		},
	}

	cmd.AddCommand(get, status, update, del)
	return cmd
}

func dateFlag(set bool, s string) (*time.Time, error) {
	if !set {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: want %s", s, dateLayout)
	}
	return &t, nil
}

func (c *cli) challengesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "challenges", Short: "List and manage challenges"}

	var (
		closed bool
		pages  int
		cards  bool
	)
	list := &cobra.Command{
		Use:   "list GATHERING_ID",
		Short: "List challenges, loading up to --pages pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st := gathering.StatusFor(!closed)
			loaded, err := a.queries.Challenges(ctx, id, st)
			if err != nil {
				return err
			}
			for len(loaded.Pages) < pages {
				loaded, err = a.queries.FetchNextChallenges(ctx, id, st)
				if errors.Is(err, gathering.ErrNoNextPage) {
					break
				}
				if err != nil {
					return err
				}
			}
			if !cards {
				return c.print(loaded)
			}
			g, err := a.queries.Gathering(ctx, id)
			if err != nil {
				return err
			}
			return c.print(gathering.ChallengeCards(g, loaded.All()))
		},
	}
	list.Flags().BoolVar(&closed, "closed", false, "list closed challenges")
	list.Flags().IntVar(&pages, "pages", 1, "pages to load")
	list.Flags().BoolVar(&cards, "cards", false, "print the viewer's challenge cards")

	var req gathering.ChallengeCreate
	var start, end string
	create := &cobra.Command{
		Use:  "create GATHERING_ID",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			s, err := dateFlag(true, start)
			if err != nil {
				return err
			}
			e, err := dateFlag(true, end)
			if err != nil {
				return err
			}
			req.StartDate, req.EndDate = *s, *e
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			ch, err := a.muts.CreateChallenge(cmd.Context(), id, req)
			if err != nil {
				return err
			}
			return c.print(ch)
		},
	}
	cf := create.Flags()
	cf.StringVar(&req.Title, "title", "", "title")
	cf.StringVar(&req.Description, "description", "", "description")
	cf.StringVar(&req.ImageURL, "image", "", "image URL")
	cf.IntVar(&req.MaxPeopleCount, "max-people", 0, "participant limit")
	cf.StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cf.StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	_ = create.MarkFlagRequired("title")
	_ = create.MarkFlagRequired("start")
	_ = create.MarkFlagRequired("end")

	var delClosed bool
	del := &cobra.Command{
		Use:  "delete GATHERING_ID CHALLENGE_ID",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			cid, err := intArg(args, 1, "challenge id")
			if err != nil {
				return err
			}
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			return a.muts.DeleteChallenge(cmd.Context(), gid, cid, !delClosed)
		},
	}
	del.Flags().BoolVar(&delClosed, "closed", false, "the challenge is in the closed list")

	var proof string
	verify := &cobra.Command{
		Use:  "verify GATHERING_ID CHALLENGE_ID",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			cid, err := intArg(args, 1, "challenge id")
			if err != nil {
				return err
			}
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			return a.muts.VerifyChallenge(cmd.Context(), gid, cid, proof)
		},
	}
	verify.Flags().StringVar(&proof, "image", "", "proof image URL")
	_ = verify.MarkFlagRequired("image")

	cmd.AddCommand(list, create, del, verify)
	return cmd
}

func (c *cli) guestbooksCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "guestbooks GATHERING_ID",
		Short: "Show a page of guestbook cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			p, err := a.queries.Guestbooks(ctx, id, page)
			if err != nil {
				return err
			}
			// a missing gathering only degrades the cards
			var gp *gathering.Gathering
			if g, err := a.queries.Gathering(ctx, id); err == nil {
				gp = &g
			}
			out := make([]gathering.GuestbookCard, 0, len(p.Content))
			for _, gb := range p.Content {
				out = append(out, gathering.NewGuestbookCard(gb, gp))
			}
			return c.print(out)
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page number")
	return cmd
}

func (c *cli) calendarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calendar GATHERING_ID",
		Short: "Print challenges as calendar events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := intArg(args, 0, "gathering id")
			if err != nil {
				return err
			}
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			cal, err := a.queries.Calendar(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.print(cal.Events)
		},
	}
}
