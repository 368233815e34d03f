package mocks

//go:generate mockery --name RecordSource --srcpkg github.com/tabulon-lab/project-tabulon/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name ReportRepository --srcpkg github.com/tabulon-lab/project-tabulon/internal/core/aggregation --output ./aggregation --outpkg aggregationmocks --with-expecter
