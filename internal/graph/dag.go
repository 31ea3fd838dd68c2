// Package graph resolves the job dependency graph of a pipeline from the
// project's CI configuration, so the monitor can keep a target job's
// transitive prerequisites alive while cancelling everything else.
package graph

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// Client is the slice of the GitLab client the graph fetcher needs.
type Client interface {
	GraphQL(ctx context.Context, query string, variables map[string]interface{}, result interface{}) error
}

// ciConfigQuery pulls every job of the CI config for a revision together
// with its direct needs.
const ciConfigQuery = `
query ciConfigJobNeeds($projectPath: ID!, $sha: String!) {
  project(fullPath: $projectPath) {
    ciConfig(sha: $sha) {
      stages {
        nodes {
          groups {
            nodes {
              jobs {
                nodes {
                  name
                  needs {
                    nodes {
                      name
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

type namedNode struct {
	Name string `json:"name"`
}

type jobNode struct {
	Name  string `json:"name"`
	Needs struct {
		Nodes []namedNode `json:"nodes"`
	} `json:"needs"`
}

type ciConfigData struct {
	Project struct {
		CIConfig struct {
			Stages struct {
				Nodes []struct {
					Groups struct {
						Nodes []struct {
							Jobs struct {
								Nodes []jobNode `json:"nodes"`
							} `json:"jobs"`
						} `json:"nodes"`
					} `json:"groups"`
				} `json:"nodes"`
			} `json:"stages"`
		} `json:"ciConfig"`
	} `json:"project"`
}

// DAG maps each job name to the set of its transitive needs.
type DAG map[string]map[string]struct{}

// Fetch retrieves the CI config job graph for (projectPath, sha) and
// returns it with needs expanded to their transitive closure.
func Fetch(ctx context.Context, client Client, projectPath, sha string) (DAG, error) {
	var data ciConfigData
	vars := map[string]interface{}{
		"projectPath": projectPath,
		"sha":         sha,
	}
	if err := client.GraphQL(ctx, ciConfigQuery, vars, &data); err != nil {
		return nil, fmt.Errorf("failed to fetch CI config graph: %w", err)
	}

	direct := make(map[string][]string)
	for _, stage := range data.Project.CIConfig.Stages.Nodes {
		for _, group := range stage.Groups.Nodes {
			for _, job := range group.Jobs.Nodes {
				needs := make([]string, 0, len(job.Needs.Nodes))
				for _, need := range job.Needs.Nodes {
					needs = append(needs, need.Name)
				}
				direct[job.Name] = needs
			}
		}
	}

	if len(direct) == 0 {
		return nil, fmt.Errorf("CI config for %s@%s has no jobs", projectPath, sha)
	}

	return closure(direct), nil
}

// closure expands direct needs into transitive need sets. Cycles cannot
// occur in a valid CI config but the traversal guards against them anyway
// so a malformed config cannot hang the tool.
func closure(direct map[string][]string) DAG {
	dag := make(DAG, len(direct))
	for job := range direct {
		needs := make(map[string]struct{})
		stack := append([]string(nil), direct[job]...)
		for len(stack) > 0 {
			need := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, seen := needs[need]; seen || need == job {
				continue
			}
			needs[need] = struct{}{}
			stack = append(stack, direct[need]...)
		}
		dag[job] = needs
	}
	return dag
}

// Filter returns the sub-graph of jobs whose name matches the target
// pattern. The pattern is expected to be anchored at the start by the
// caller.
func (d DAG) Filter(target *regexp.Regexp) DAG {
	filtered := make(DAG)
	for job, needs := range d {
		if target.MatchString(job) {
			filtered[job] = needs
		}
	}
	return filtered
}

// Dependencies returns the union of the needs of every job in the graph.
func (d DAG) Dependencies() map[string]struct{} {
	deps := make(map[string]struct{})
	for _, needs := range d {
		for need := range needs {
			deps[need] = struct{}{}
		}
	}
	return deps
}

// Print writes the graph as a sorted job tree.
func Print(w io.Writer, d DAG) {
	jobs := make([]string, 0, len(d))
	for job := range d {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)

	for _, job := range jobs {
		fmt.Fprintf(w, "%s:\n", job)
		needs := make([]string, 0, len(d[job]))
		for need := range d[job] {
			needs = append(needs, need)
		}
		sort.Strings(needs)
		if len(needs) > 0 {
			fmt.Fprintf(w, "\t%s\n", strings.Join(needs, " "))
		}
		fmt.Fprintln(w)
	}
}
