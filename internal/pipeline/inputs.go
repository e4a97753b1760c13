package pipeline

import (
	"fmt"
	"os"

	"access-matrix/internal/config"
	"access-matrix/internal/population"
	"access-matrix/internal/spatial"
)

// CRSPair：输入坐标系与工作坐标系
type CRSPair struct {
	Input spatial.CRS
	Work  spatial.CRS
}

// ParseCRSPair：解析 INPUT_CRS 与 WORK_CRS
func ParseCRSPair(c config.Config) (CRSPair, error) {
	in, err := spatial.ParseCRS(c.InputCRS)
	if err != nil {
		return CRSPair{}, err
	}
	work, err := spatial.ParseCRS(c.WorkCRS)
	if err != nil {
		return CRSPair{}, err
	}
	return CRSPair{Input: in, Work: work}, nil
}

// LoadRegions：读取行政边界，按区域字段合并并投影到工作坐标系
func LoadRegions(c config.Config, crs CRSPair) ([]spatial.Region, error) {
	data, err := os.ReadFile(c.RegionSource)
	if err != nil {
		return nil, fmt.Errorf("read regions: %w", err)
	}
	regions, err := spatial.DecodeRegions(data, c.RegionField, spatial.Transform(crs.Input, crs.Work), c.BufferRadiusM)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("no regions in %s", c.RegionSource)
	}
	return regions, nil
}

// LoadPopulation：读取人口数据并投影到工作坐标系
func LoadPopulation(c config.Config, crs CRSPair) ([]spatial.PopulationUnit, error) {
	data, err := os.ReadFile(c.PopulationSource)
	if err != nil {
		return nil, fmt.Errorf("read population: %w", err)
	}
	return population.Load(c.PopulationKind, data, c.PopulationField, spatial.Transform(crs.Input, crs.Work))
}
