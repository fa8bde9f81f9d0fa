package http

import (
	"net/http"

	jwtMiddleware "TradeRAG/internal/middleware/jwt"
	"TradeRAG/internal/modules/ai/application/service"
	aiHandler "TradeRAG/internal/modules/ai/interface/http"
	"TradeRAG/pkg/ssl"
	"TradeRAG/pkg/util/myjwt"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RouterDeps 路由依赖，由组合根构造
type RouterDeps struct {
	RetrieveSvc service.RetrieveService
	IngestSvc   service.IngestService
	Signer      *myjwt.Signer // nil 时运维接口关闭，除非 AdminOpen
	AdminOpen   bool          // 未配置 jwt key 时仍开放运维接口（仅限本机调试）
	Host        string
	Port        int
	TLSEnabled  bool
	Backend     string // 健康检查中展示的向量库后端
	VectorDim   int
}

func NewRouter(d RouterDeps) *gin.Engine {
	ge := gin.New()
	ge.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	ge.Use(cors.New(corsConfig))
	ge.Use(ssl.SecureHeaders(d.TLSEnabled, d.Host, d.Port))

	queryH := aiHandler.NewQueryHandler(d.RetrieveSvc)
	adminH := aiHandler.NewAdminHandler(d.IngestSvc)

	ge.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": d.Backend, "vector_dim": d.VectorDim})
	})

	ai := ge.Group("/ai")
	ai.POST("/retrieve", queryH.Retrieve)

	admin := ai.Group("/")
	admin.Use(jwtMiddleware.Auth(d.Signer, d.AdminOpen))
	admin.POST("/ingest", adminH.IngestNow)
	admin.POST("/documents", adminH.IngestDocuments)
	admin.GET("/runs", adminH.ListRuns)

	return ge
}
