package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"access-matrix/internal/artifact"
	"access-matrix/internal/logger"
	"access-matrix/internal/spatial"

	"github.com/paulmach/orb"
)

// ErrEmptySelection：抽取结果为空
var ErrEmptySelection = errors.New("selection: empty origin selection")

// Sampler：起点随机抽取器
// Reuse=true 时优先复用已持久化的抽取结果；否则每次重新抽取并覆盖
type Sampler struct {
	Store       artifact.Store
	Reuse       bool
	FractionPct float64
	// Seed 为 0 时按当前时间取种
	Seed uint64
	Log  *slog.Logger
}

// 文档注释：抽取并持久化起点集合
// 背景：全量路网点作为起点代价过高，按比例无放回随机抽取；为了跨运行可比，抽取结果落盘并可原样复用。
// 约束：
// - 复用模式下，若 key 已存在，直接解码返回，坐标与 ID 逐位一致；
// - 抽取数量 round(n*F/100)，抽中后按输入顺序排列，再去除坐标完全相同的重复点（保留首次出现）；
// - 结果为空时返回 ErrEmptySelection 且不落盘。
func (s *Sampler) Sample(ctx context.Context, key string, points []spatial.Point) ([]spatial.Point, error) {
	l := s.Log
	if l == nil {
		l = logger.L()
	}
	if s.Reuse {
		data, err := s.Store.Get(ctx, key)
		switch {
		case err == nil:
			pts, err := spatial.DecodePoints(data, nil)
			if err != nil {
				return nil, fmt.Errorf("reuse selection %s: %w", key, err)
			}
			l.Info("selection_reuse", "key", key, "points", len(pts))
			return pts, nil
		case !errors.Is(err, artifact.ErrNotFound):
			return nil, fmt.Errorf("reuse selection %s: %w", key, err)
		}
	}
	seed := s.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	picked := Draw(points, s.fraction(), rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
	if len(picked) == 0 {
		return nil, ErrEmptySelection
	}
	data, err := spatial.EncodePoints(picked)
	if err != nil {
		return nil, err
	}
	if err := s.Store.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("persist selection %s: %w", key, err)
	}
	l.Info("selection_new", "key", key, "candidates", len(points), "points", len(picked), "seed", seed)
	return picked, nil
}

func (s *Sampler) fraction() float64 {
	if s.FractionPct <= 0 {
		return 50
	}
	return s.FractionPct
}

// Draw：无放回抽取 round(n*pct/100) 个点，保持输入顺序并去除同坐标重复
func Draw(points []spatial.Point, pct float64, r *rand.Rand) []spatial.Point {
	n := len(points)
	k := int(math.Round(float64(n) * pct / 100))
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}
	idx := r.Perm(n)[:k]
	slices.Sort(idx)
	seen := make(map[orb.Point]struct{}, k)
	out := make([]spatial.Point, 0, k)
	for _, i := range idx {
		p := points[i]
		if _, dup := seen[p.Pos]; dup {
			continue
		}
		seen[p.Pos] = struct{}{}
		out = append(out, p)
	}
	return out
}
