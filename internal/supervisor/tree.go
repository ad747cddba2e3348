// ABOUTME: Descendant discovery for a child's process tree via gopsutil.

package supervisor

import (
	"github.com/shirou/gopsutil/v3/process"
)

// descendants returns every live descendant of pid, parents before their
// children. Lookup failures yield a partial or empty list.
func descendants(pid int) []int {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []int
	seen := map[int32]bool{root.Pid: true}
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		kids, err := p.Children()
		if err != nil {
			continue
		}
		for _, k := range kids {
			if seen[k.Pid] {
				continue
			}
			seen[k.Pid] = true
			out = append(out, int(k.Pid))
			queue = append(queue, k)
		}
	}
	return out
}
