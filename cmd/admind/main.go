package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/labstack/echo/v4"
	glog "github.com/labstack/gommon/log"

	"github.com/opst/adminhub/pkg/audit"
	auditpg "github.com/opst/adminhub/pkg/audit/postgres"
	"github.com/opst/adminhub/pkg/configs/admind"
	kpool "github.com/opst/adminhub/pkg/conn/db/postgres/pool"
	"github.com/opst/adminhub/pkg/conn/k8s"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	"github.com/opst/adminhub/pkg/domain/announcement"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/domain/dataset"
	"github.com/opst/adminhub/pkg/domain/group"
	"github.com/opst/adminhub/pkg/domain/image"
	"github.com/opst/adminhub/pkg/domain/instancetype"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/resource"
	"github.com/opst/adminhub/pkg/domain/secret"
	"github.com/opst/adminhub/pkg/domain/system"
	"github.com/opst/adminhub/pkg/domain/user"
	"github.com/opst/adminhub/pkg/utils/echoutil"
	"github.com/opst/adminhub/pkg/utils/filewatch"

	"github.com/opst/adminhub/cmd/admind/handlers"
)

func main() {

	configPath := flag.String("config-path", "", "admin server config path")
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()

	e := echo.New()

	// set log
	echoutil.SetLevel(e, *loglevel)
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	// read configfile
	conf, err := admind.Load(*configPath)
	if err != nil {
		log.Fatalf("can not read configration: %s", err)
	}

	ctx := context.Background()
	{
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *configPath)
		if err != nil {
			log.Fatalf("can not watch configration: %s", err)
		}
		defer cancel()
		context.AfterFunc(wctx, func() {
			log.Println("config file is updated. quit to restart server.")
			graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := e.Shutdown(graceful); err != nil {
				log.Printf("error on shutdown by config update: %s", err)
			}
		})
	}

	callTimeout := time.Duration(conf.CallTimeoutSeconds) * time.Second

	// upstreams
	identity := keycloak.New(keycloak.Config{
		BaseURL:      conf.Keycloak.BaseURL,
		Realm:        conf.Keycloak.Realm,
		ClientID:     conf.Keycloak.ClientID,
		ClientSecret: conf.Keycloak.ClientSecret,
		Timeout:      callTimeout,
	})
	perms := permissions.New(identity)

	restConfig, err := k8s.RestConfig(conf.Kubernetes.Kubeconfig)
	if err != nil {
		log.Fatalf("can not configure kubernetes client: %s", err)
	}
	clients, err := k8s.NewClients(restConfig)
	if err != nil {
		log.Fatalf("can not connect kubernetes: %s", err)
	}
	namespace := conf.Kubernetes.Namespace

	// audit trail: always the structured log, plus postgres when configured
	recorder := audit.NewLogRecorder(glog.New("audit"))
	if conf.AuditDBURI != "" {
		pool, err := kpool.New(ctx, conf.AuditDBURI)
		if err != nil {
			log.Fatalf("can not connect audit database: %s", err)
		}
		defer pool.Close()
		if err := auditpg.Bootstrap(ctx, pool); err != nil {
			log.Fatalf("can not prepare audit table: %s", err)
		}
		recorder = audit.Multi(recorder, auditpg.New(pool))
	}

	// resolvers
	engineFor := func(adapter resource.Adapter, hooks resource.Hooks, kind k8s.Kind) *resource.Engine {
		return resource.New(resource.Config{
			Adapter:       adapter,
			Hooks:         hooks,
			Store:         k8s.NewStore(clients.Dynamic, namespace, kind, callTimeout),
			Identity:      identity,
			Permissions:   perms,
			EveryoneGroup: conf.EveryoneGroup,
			Audit:         recorder,
		})
	}
	images := engineFor(image.Adapter{}, nil, k8s.KindImage)
	instancetypes := engineFor(instancetype.Adapter{}, nil, k8s.KindInstanceType)
	datasets := engineFor(dataset.Adapter{}, dataset.Hooks{Perms: perms}, k8s.KindDataset)
	announcements := engineFor(announcement.Adapter{}, nil, k8s.KindAnnouncement)

	users := user.New(user.Config{
		Identity:      identity,
		Permissions:   perms,
		AdminRole:     conf.AdminRole,
		EveryoneGroup: conf.EveryoneGroup,
		Audit:         recorder,
	})
	groups := group.New(group.Config{
		Identity:      identity,
		EveryoneGroup: conf.EveryoneGroup,
		Audit:         recorder,
	})
	settings := system.New(system.Config{
		Identity:      identity,
		EveryoneGroup: conf.EveryoneGroup,
		Audit:         recorder,
	})
	secrets := secret.New(secret.Config{
		Store: k8s.NewSecretStore(clients.Typed, namespace, callTimeout),
		Audit: recorder,
	})

	parser := auth.Parser{Secret: []byte(conf.TokenSecret)}

	// handlers
	{
		api := e.Group("/api", handlers.BearerActor(parser))

		// any authenticated user
		api.GET("/me/announcements", handlers.MyAnnouncementsHandler(announcements, perms, identity))
		api.POST("/me/announcements/read", handlers.MarkAnnouncementsReadHandler(identity))
		api.GET("/groups/:id/images", handlers.GroupImagesHandler(groups, images, perms, conf.AdminRole, "id"))
		api.POST("/groups/:id/images", handlers.CreateGroupImageHandler(groups, images, conf.AdminRole, "id"))
		api.PUT("/groups/:id/images/:name", handlers.UpdateGroupImageHandler(groups, images, conf.AdminRole, "id", "name"))

		// administrators only
		admin := api.Group("", handlers.RequireRole(conf.AdminRole))

		admin.GET("/users", handlers.ListUsersHandler(users))
		admin.GET("/users/connection", handlers.UsersConnectionHandler(users))
		admin.POST("/users", handlers.CreateUserHandler(users))
		admin.POST("/users/send-email", handlers.SendMultiEmailHandler(users))
		admin.GET("/users/:id", handlers.GetUserHandler(users, "id"))
		admin.PUT("/users/:id", handlers.UpdateUserHandler(users, "id"))
		admin.DELETE("/users/:id", handlers.DestroyUserHandler(users, "id"))
		admin.POST("/users/:id/reset-password", handlers.ResetPasswordHandler(users, "id"))
		admin.POST("/users/:id/send-email", handlers.SendEmailHandler(users, "id"))

		admin.GET("/groups", handlers.ListGroupsHandler(groups))
		admin.GET("/groups/connection", handlers.GroupsConnectionHandler(groups))
		admin.POST("/groups", handlers.CreateGroupHandler(groups))
		admin.GET("/groups/:id", handlers.GetGroupHandler(groups, "id"))
		admin.PUT("/groups/:id", handlers.UpdateGroupHandler(groups, "id"))
		admin.DELETE("/groups/:id", handlers.DestroyGroupHandler(groups, "id"))

		for path, engine := range map[string]*resource.Engine{
			"/images":        images,
			"/instancetypes": instancetypes,
			"/datasets":      datasets,
			"/announcements": announcements,
		} {
			admin.GET(path, handlers.ListResourceHandler(engine))
			admin.GET(path+"/connection", handlers.ResourceConnectionHandler(engine))
			admin.POST(path, handlers.CreateResourceHandler(engine))
			admin.GET(path+"/:name", handlers.GetResourceHandler(engine, "name"))
			admin.PUT(path+"/:name", handlers.UpdateResourceHandler(engine, "name"))
			admin.DELETE(path+"/:name", handlers.DestroyResourceHandler(engine, "name"))
		}

		admin.GET("/secrets", handlers.ListSecretsHandler(secrets))
		admin.GET("/secrets/connection", handlers.SecretsConnectionHandler(secrets))
		admin.POST("/secrets", handlers.CreateSecretHandler(secrets))
		admin.GET("/secrets/:name", handlers.GetSecretHandler(secrets, "name"))
		admin.PUT("/secrets/:name", handlers.UpdateSecretHandler(secrets, "name"))
		admin.DELETE("/secrets/:name", handlers.DestroySecretHandler(secrets, "name"))

		admin.GET("/system", handlers.GetSystemHandler(settings))
		admin.PUT("/system", handlers.UpdateSystemHandler(settings))
	}

	if *pcert != "" && *pkey != "" {
		e.Logger.Fatal(e.StartTLS(":"+conf.ServerPort, *pcert, *pkey))
	} else {
		e.Logger.Fatal(e.Start(":" + conf.ServerPort))
	}
}
