package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"airlock.evalgo.org/auth"
	"airlock.evalgo.org/controller"
	"airlock.evalgo.org/events"
	"airlock.evalgo.org/request"
	"airlock.evalgo.org/workspace"
)

func init() {
	RootCmd.AddCommand(createRequestCmd)
	addCreateRequestFlags(createRequestCmd)
}

func addCreateRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("dirs", nil, "workspace directories to add, one file group per directory")
	cmd.Flags().String("context", "", "what the outputs show (applied to every group)")
	cmd.Flags().String("controls", "", "disclosure controls applied (applied to every group)")
	cmd.Flags().String("plan", "", "YAML plan file describing the groups to create")
	cmd.Flags().Bool("validate-only", false, "check the plan against the workspace without creating anything")
}

var createRequestCmd = &cobra.Command{
	Use:   "create-request <username> <workspace>",
	Short: "create a release request from the command line",
	Long: `Creates a PENDING release request on behalf of a user and fills it
from the workspace: each named directory becomes a file group holding
the releasable files found under it. Files with suffixes that may not
leave the environment are skipped with a warning.

Groups come either from repeated --dirs with a shared --context and
--controls, or from a YAML plan file:

    groups:
      - name: tables
        dirs: [output/tables]
        context: descriptive statistics by region
        controls: cell counts suppressed below 10

With --validate-only the plan is checked against the workspace and
nothing is written.`,
	Args: cobra.ExactArgs(2),
	RunE: runCreateRequest,
}

// requestPlan is the YAML shape of a scripted request.
type requestPlan struct {
	Groups []planGroup `yaml:"groups"`
}

type planGroup struct {
	Name     string   `yaml:"name"`
	Dirs     []string `yaml:"dirs"`
	Context  string   `yaml:"context"`
	Controls string   `yaml:"controls"`
}

// loadPlan builds the plan from the flags: an explicit YAML file, or
// one group per --dirs entry named after the directory.
func loadPlan(cmd *cobra.Command) (*requestPlan, error) {
	planFile, _ := cmd.Flags().GetString("plan")
	dirs, _ := cmd.Flags().GetStringSlice("dirs")

	if planFile != "" && len(dirs) > 0 {
		return nil, validationErrorf("--plan and --dirs are mutually exclusive")
	}

	if planFile != "" {
		raw, err := os.ReadFile(planFile)
		if err != nil {
			return nil, validationErrorf("cannot read plan: %v", err)
		}
		var plan requestPlan
		if err := yaml.Unmarshal(raw, &plan); err != nil {
			return nil, validationErrorf("cannot parse plan: %v", err)
		}
		if err := checkPlan(&plan); err != nil {
			return nil, err
		}
		return &plan, nil
	}

	if len(dirs) == 0 {
		return nil, validationErrorf("either --plan or --dirs is required")
	}
	groupContext, _ := cmd.Flags().GetString("context")
	controls, _ := cmd.Flags().GetString("controls")
	plan := &requestPlan{}
	for _, dir := range dirs {
		plan.Groups = append(plan.Groups, planGroup{
			Name:     dir,
			Dirs:     []string{dir},
			Context:  groupContext,
			Controls: controls,
		})
	}
	return plan, nil
}

func checkPlan(plan *requestPlan) error {
	if len(plan.Groups) == 0 {
		return validationErrorf("plan names no groups")
	}
	seen := map[string]bool{}
	for _, g := range plan.Groups {
		if g.Name == "" {
			return validationErrorf("plan group without a name")
		}
		if seen[g.Name] {
			return validationErrorf("duplicate plan group %q", g.Name)
		}
		seen[g.Name] = true
		if len(g.Dirs) == 0 {
			return validationErrorf("plan group %q names no directories", g.Name)
		}
	}
	return nil
}

// resolvePlan walks the workspace and splits each group's files into
// releasable ones and skipped ones.
func resolvePlan(workspaces *workspace.Service, workspaceName string, plan *requestPlan) (map[string][]controller.FileAdd, []string, error) {
	adds := map[string][]controller.FileAdd{}
	var skipped []string
	for _, g := range plan.Groups {
		for _, dir := range g.Dirs {
			files, err := workspaces.ListFilesUnder(workspaceName, dir)
			if err != nil {
				return nil, nil, err
			}
			for _, relpath := range files {
				if !request.IsValidFileType(relpath) {
					skipped = append(skipped, relpath)
					continue
				}
				adds[g.Name] = append(adds[g.Name], controller.FileAdd{
					Relpath:  relpath,
					FileType: request.FileTypeOutput,
					Group:    g.Name,
				})
			}
		}
		if len(adds[g.Name]) == 0 {
			return nil, nil, validationErrorf("group %q matches no releasable files", g.Name)
		}
	}
	return adds, skipped, nil
}

func runCreateRequest(cmd *cobra.Command, args []string) error {
	username, workspaceName := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	plan, err := loadPlan(cmd)
	if err != nil {
		return err
	}

	hashCache, err := workspace.OpenHashCache(cfg.Cache.BoltPath)
	if err != nil {
		return err
	}
	defer hashCache.Close()
	workspaces := workspace.NewService(cfg.Dirs.WorkspaceDir, hashCache)

	if !workspaces.Exists(workspaceName) {
		return validationErrorf("workspace %q does not exist", workspaceName)
	}

	adds, skipped, err := resolvePlan(workspaces, workspaceName, plan)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, relpath := range skipped {
		fmt.Fprintf(out, "skipping %s: file type may not be released\n", relpath)
	}

	if validateOnly, _ := cmd.Flags().GetBool("validate-only"); validateOnly {
		for _, g := range plan.Groups {
			fmt.Fprintf(out, "group %s: %d files\n", g.Name, len(adds[g.Name]))
		}
		fmt.Fprintln(out, "plan is valid")
		return nil
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := newBlobStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	ctrl := controller.New(controller.NewGormStore(store), workspaces, blobs, events.NopSink{}, nil, controller.Options{
		UploadJobDeadline: cfg.Upload.JobDeadline,
	})

	actor := &auth.User{
		ID:         username,
		Username:   username,
		Workspaces: map[string]auth.WorkspaceDetails{workspaceName: {}},
	}

	ctx := cmd.Context()
	r, err := ctrl.CreateRequest(ctx, actor, workspaceName)
	if err != nil {
		return err
	}
	if err := fillRequest(ctx, ctrl, actor, r.ID, plan, adds); err != nil {
		return err
	}

	fmt.Fprintf(out, "created request %s on %s for %s\n", r.ID, workspaceName, username)
	return nil
}

func fillRequest(ctx context.Context, ctrl *controller.Controller, actor request.Actor, requestID string, plan *requestPlan, adds map[string][]controller.FileAdd) error {
	for _, g := range plan.Groups {
		if _, err := ctrl.AddFiles(ctx, actor, requestID, adds[g.Name]); err != nil {
			return err
		}
		if g.Context == "" && g.Controls == "" {
			continue
		}
		edit := controller.GroupEdit{}
		if g.Context != "" {
			edit.Context = &g.Context
		}
		if g.Controls != "" {
			edit.Controls = &g.Controls
		}
		if _, err := ctrl.EditGroup(ctx, actor, requestID, g.Name, edit); err != nil {
			return err
		}
	}
	return nil
}
